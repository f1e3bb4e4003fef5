package callback

import (
	"regexp"
	"strings"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/ffi-runtime/errors"
)

// Param is a named method parameter.
type Param struct {
	Type wit.Type
	Name string
}

// Signature describes one method of a contract.
type Signature struct {
	Name    string
	Params  []Param
	Results []wit.Type
}

// Contract is a parsed capability interface. Methods keep declaration
// order, which is also their index order starting at 1.
type Contract struct {
	Name    string
	Methods []Signature
}

// Method returns the signature with the given name.
func (c *Contract) Method(name string) (Signature, bool) {
	for _, m := range c.Methods {
		if m.Name == name {
			return m, true
		}
	}
	return Signature{}, false
}

var funcPattern = regexp.MustCompile(`(?:export\s+)?([a-zA-Z_][a-zA-Z0-9_-]*)\s*:\s*func\s*\(([^)]*)\)(?:\s*->\s*([^;]+))?`)

// ParseContract reads method signatures from WIT function declarations:
//
//	log: func(level: u8, msg: string);
//	fetch: func(url: string) -> result<list<u8>, string>;
func ParseContract(name, witText string) (*Contract, error) {
	c := &Contract{Name: name}

	for _, match := range funcPattern.FindAllStringSubmatch(witText, -1) {
		sig := Signature{Name: match[1]}

		if paramsStr := strings.TrimSpace(match[2]); paramsStr != "" {
			for _, p := range splitTypes(paramsStr) {
				pname, typStr, ok := strings.Cut(p, ":")
				if !ok {
					return nil, errors.InvalidInput(errors.PhaseLoad, "parameter without type: "+p)
				}
				t, err := parseType(strings.TrimSpace(typStr))
				if err != nil {
					return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidData, err, "parse param type "+typStr)
				}
				sig.Params = append(sig.Params, Param{Name: strings.TrimSpace(pname), Type: t})
			}
		}

		resultStr := ""
		if len(match) > 3 {
			resultStr = strings.TrimSpace(match[3])
		}
		if resultStr != "" && resultStr != "()" {
			if strings.HasPrefix(resultStr, "(") && strings.HasSuffix(resultStr, ")") {
				inner := resultStr[1 : len(resultStr)-1]
				for _, part := range splitTypes(inner) {
					// named results: (a: u32, b: string)
					if _, typStr, ok := strings.Cut(part, ":"); ok {
						part = typStr
					}
					t, err := parseType(strings.TrimSpace(part))
					if err != nil {
						return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidData, err, "parse result type "+part)
					}
					sig.Results = append(sig.Results, t)
				}
			} else {
				t, err := parseType(resultStr)
				if err != nil {
					return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidData, err, "parse result type "+resultStr)
				}
				sig.Results = []wit.Type{t}
			}
		}

		if _, dup := c.Method(sig.Name); dup {
			return nil, errors.InvalidInput(errors.PhaseLoad, "duplicate method "+sig.Name)
		}
		c.Methods = append(c.Methods, sig)
	}

	if len(c.Methods) == 0 {
		return nil, errors.InvalidInput(errors.PhaseLoad, "no functions found in WIT text")
	}
	return c, nil
}

// splitTypes splits a comma separated list, ignoring commas nested in
// angle brackets or parens.
func splitTypes(s string) []string {
	var result []string
	var current strings.Builder
	depth := 0

	for _, ch := range s {
		switch ch {
		case '(', '<':
			depth++
			current.WriteRune(ch)
		case ')', '>':
			depth--
			current.WriteRune(ch)
		case ',':
			if depth == 0 {
				if str := strings.TrimSpace(current.String()); str != "" {
					result = append(result, str)
				}
				current.Reset()
			} else {
				current.WriteRune(ch)
			}
		default:
			current.WriteRune(ch)
		}
	}
	if str := strings.TrimSpace(current.String()); str != "" {
		result = append(result, str)
	}
	return result
}

func parseType(s string) (wit.Type, error) {
	s = strings.TrimSpace(s)
	head, args, generic := strings.Cut(s, "<")
	if !generic {
		if s == "_" {
			return nil, nil
		}
		return wit.ParseType(s)
	}
	if !strings.HasSuffix(args, ">") {
		return nil, errors.InvalidInput(errors.PhaseLoad, "unbalanced type "+s)
	}
	inner := splitTypes(args[:len(args)-1])

	params := make([]wit.Type, len(inner))
	for i, part := range inner {
		t, err := parseType(part)
		if err != nil {
			return nil, err
		}
		params[i] = t
	}

	arity := func(n int) error {
		if len(params) != n {
			return errors.InvalidInput(errors.PhaseLoad, "wrong number of type parameters in "+s)
		}
		return nil
	}

	switch strings.TrimSpace(head) {
	case "list":
		if err := arity(1); err != nil {
			return nil, err
		}
		return &wit.TypeDef{Kind: &wit.List{Type: params[0]}}, nil
	case "option":
		if err := arity(1); err != nil {
			return nil, err
		}
		return &wit.TypeDef{Kind: &wit.Option{Type: params[0]}}, nil
	case "result":
		if err := arity(2); err != nil {
			return nil, err
		}
		return &wit.TypeDef{Kind: &wit.Result{OK: params[0], Err: params[1]}}, nil
	case "tuple":
		if len(params) == 0 {
			return nil, errors.InvalidInput(errors.PhaseLoad, "empty tuple")
		}
		return &wit.TypeDef{Kind: &wit.Tuple{Types: params}}, nil
	default:
		return nil, errors.InvalidInput(errors.PhaseLoad, "unsupported type "+s)
	}
}
