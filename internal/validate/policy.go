package validate

import (
	"fmt"
	"regexp"
)

var sidRegex = regexp.MustCompile(`^[A-Za-z0-9]*$`)

var policyKeys = map[string]bool{"Version": true, "Id": true, "Statement": true}

var statementKeys = map[string]bool{
	"Sid":          true,
	"Effect":       true,
	"Action":       true,
	"NotAction":    true,
	"Resource":     true,
	"NotResource":  true,
	"Condition":    true,
	"Principal":    true,
	"NotPrincipal": true,
}

// checkPolicy validates the shape of an identity-based IAM policy document.
func checkPolicy(c *collector, field string, doc any, source string) {
	obj, ok := doc.(map[string]any)
	if !ok {
		c.add(field, ruleType, describe(doc), source)
		return
	}

	for _, key := range sortedKeys(obj) {
		if !policyKeys[key] {
			c.add(field+"."+key, ruleUnknownField, describe(obj[key]), source)
		}
	}

	switch version := obj["Version"].(type) {
	case nil:
		c.add(field+".Version", ruleRequired, "", source)
	case string:
		if version != DefaultPolicyVersion && version != LegacyPolicyVersion {
			c.add(field+".Version", ruleEnum, version, source)
		}
	default:
		c.add(field+".Version", ruleType, describe(version), source)
	}

	if id, present := obj["Id"]; present {
		if _, ok := id.(string); !ok {
			c.add(field+".Id", ruleType, describe(id), source)
		}
	}

	switch statements := obj["Statement"].(type) {
	case nil:
		c.add(field+".Statement", ruleRequired, "", source)
	case map[string]any:
		checkStatement(c, field+".Statement", statements, source)
	case []any:
		if len(statements) == 0 {
			c.add(field+".Statement", ruleRequired, "[]", source)
		}
		for i, s := range statements {
			statementField := fmt.Sprintf("%s.Statement[%d]", field, i)
			statement, ok := s.(map[string]any)
			if !ok {
				c.add(statementField, ruleType, describe(s), source)
				continue
			}
			checkStatement(c, statementField, statement, source)
		}
	default:
		c.add(field+".Statement", ruleType, describe(statements), source)
	}
}

func checkStatement(c *collector, field string, statement map[string]any, source string) {
	for _, key := range sortedKeys(statement) {
		switch {
		case !statementKeys[key]:
			c.add(field+"."+key, ruleUnknownField, describe(statement[key]), source)
		case key == "Principal" || key == "NotPrincipal":
			c.add(field+"."+key, ruleNotAllowed, describe(statement[key]), source)
		}
	}

	if sid, present := statement["Sid"]; present {
		s, ok := sid.(string)
		switch {
		case !ok:
			c.add(field+".Sid", ruleType, describe(sid), source)
		case !sidRegex.MatchString(s):
			c.add(field+".Sid", ruleFormat, s, source)
		}
	}

	switch effect := statement["Effect"].(type) {
	case nil:
		c.add(field+".Effect", ruleRequired, "", source)
	case string:
		if effect != "Allow" && effect != "Deny" {
			c.add(field+".Effect", ruleEnum, effect, source)
		}
	default:
		c.add(field+".Effect", ruleType, describe(effect), source)
	}

	checkExclusiveList(c, field, statement, "Action", "NotAction", source)
	checkExclusiveList(c, field, statement, "Resource", "NotResource", source)

	if condition, present := statement["Condition"]; present {
		operators, ok := condition.(map[string]any)
		if !ok {
			c.add(field+".Condition", ruleType, describe(condition), source)
			return
		}
		for _, op := range sortedKeys(operators) {
			if _, ok := operators[op].(map[string]any); !ok {
				c.add(field+".Condition."+op, ruleType, describe(operators[op]), source)
			}
		}
	}
}

// checkExclusiveList requires exactly one of key and notKey, holding a
// non-empty string or a non-empty list of non-empty strings.
func checkExclusiveList(c *collector, field string, statement map[string]any, key, notKey, source string) {
	value, hasKey := statement[key]
	notValue, hasNotKey := statement[notKey]

	switch {
	case hasKey && hasNotKey:
		c.add(field+"."+key, ruleMutuallyExclusive, notKey, source)
		return
	case !hasKey && !hasNotKey:
		c.add(field+"."+key, ruleRequired, "", source)
		return
	case hasNotKey:
		key, value = notKey, notValue
	}

	switch v := value.(type) {
	case string:
		if v == "" {
			c.add(field+"."+key, ruleRequired, v, source)
		}
	case []any:
		if len(v) == 0 {
			c.add(field+"."+key, ruleRequired, "[]", source)
		}
		for i, item := range v {
			if s, ok := item.(string); !ok || s == "" {
				c.add(fmt.Sprintf("%s.%s[%d]", field, key, i), ruleType, describe(item), source)
			}
		}
	default:
		c.add(field+"."+key, ruleType, describe(v), source)
	}
}
