package openformats

import (
	"strconv"
	"strings"
)

type PropsType int

const (
	PROP_TYPE_STRING PropsType = iota
	PROP_TYPE_INT
	PROP_TYPE_FLOAT
	PROP_TYPE_BOOL
	PROP_TYPE_ARRAY
)

type PropsValue struct {
	Type  PropsType
	Value interface{}
}

// Properties holds shader parameters that the codec passes through untouched.
type Properties map[string]PropsValue

// ParsePropsValue types the value tokens of a "Key v1 v2 ..." line. Several
// tokens become an array.
func ParsePropsValue(tokens []string) PropsValue {
	if len(tokens) == 1 {
		return parseScalar(tokens[0])
	}
	arr := make([]PropsValue, len(tokens))
	for i, t := range tokens {
		arr[i] = parseScalar(t)
	}
	return PropsValue{Type: PROP_TYPE_ARRAY, Value: arr}
}

func parseScalar(s string) PropsValue {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return PropsValue{Type: PROP_TYPE_INT, Value: i}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return PropsValue{Type: PROP_TYPE_FLOAT, Value: f}
	}
	switch s {
	case "True", "true":
		return PropsValue{Type: PROP_TYPE_BOOL, Value: true}
	case "False", "false":
		return PropsValue{Type: PROP_TYPE_BOOL, Value: false}
	}
	return PropsValue{Type: PROP_TYPE_STRING, Value: s}
}

// String renders the value the way it appeared in the source line.
func (v PropsValue) String() string {
	switch v.Type {
	case PROP_TYPE_INT:
		return strconv.FormatInt(v.Value.(int64), 10)
	case PROP_TYPE_FLOAT:
		return strconv.FormatFloat(v.Value.(float64), 'f', -1, 64)
	case PROP_TYPE_BOOL:
		return formatBool(v.Value.(bool))
	case PROP_TYPE_ARRAY:
		arr := v.Value.([]PropsValue)
		parts := make([]string, len(arr))
		for i := range arr {
			parts[i] = arr[i].String()
		}
		return strings.Join(parts, " ")
	}
	s, _ := v.Value.(string)
	return s
}

func (p Properties) ToMap() map[string]interface{} {
	if len(p) == 0 {
		return nil
	}
	result := make(map[string]interface{}, len(p))
	for key, value := range p {
		result[key] = propsValueToInterface(value)
	}
	return result
}

func propsValueToInterface(value PropsValue) interface{} {
	switch value.Type {
	case PROP_TYPE_ARRAY:
		arr := value.Value.([]PropsValue)
		result := make([]interface{}, len(arr))
		for i, item := range arr {
			result[i] = propsValueToInterface(item)
		}
		return result
	default:
		return value.Value
	}
}
