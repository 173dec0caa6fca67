package refs

import (
	"fmt"
	"strconv"
	"strings"
)

// Vote is a label vote requested at push time via the l= option.
type Vote struct {
	Label string
	Value int
}

// PushOptions is the structured form of the option suffix accepted after
// refs/for/<branch>%. Unknown keys are ignored rather than rejected so older
// clients keep working.
type PushOptions struct {
	Topic    string
	Private  bool
	WIP      bool
	NewGroup bool
	Hashtags []string
	Votes    []Vote
}

// Target is a parsed refs/for push destination.
type Target struct {
	Branch  string
	Options PushOptions
}

// ParseTarget parses a refs/for/<branch>[%opt,opt...] push target.
func ParseTarget(ref string) (Target, error) {
	rest, found := strings.CutPrefix(ref, ForPrefix)
	if !found {
		return Target{}, fmt.Errorf("%w: %q is not under %s", ErrMalformedTarget, ref, ForPrefix)
	}
	branch := rest
	optPart := ""
	if i := strings.IndexByte(rest, '%'); i >= 0 {
		branch, optPart = rest[:i], rest[i+1:]
	}
	branch = ShortBranch(branch)
	if branch == "" {
		return Target{}, fmt.Errorf("%w: %q names no branch", ErrMalformedTarget, ref)
	}
	opts, err := ParseOptions(optPart)
	if err != nil {
		return Target{}, err
	}
	return Target{Branch: branch, Options: opts}, nil
}

// ParseOptions parses a comma separated option list ("topic=x,wip,l=Code-Review+2").
// An empty string yields the zero options.
func ParseOptions(s string) (PushOptions, error) {
	var opts PushOptions
	if s == "" {
		return opts, nil
	}
	for _, tok := range strings.Split(s, ",") {
		if tok == "" {
			continue
		}
		key, value, hasValue := strings.Cut(tok, "=")
		switch key {
		case "topic":
			if !hasValue || value == "" {
				return opts, fmt.Errorf("%w: topic requires a value", ErrMalformedOption)
			}
			opts.Topic = value
		case "private":
			opts.Private = true
		case "wip":
			opts.WIP = true
		case "new-group":
			opts.NewGroup = true
		case "hashtag", "t":
			if !hasValue || value == "" {
				return opts, fmt.Errorf("%w: hashtag requires a value", ErrMalformedOption)
			}
			opts.Hashtags = append(opts.Hashtags, value)
		case "l", "label":
			if !hasValue {
				return opts, fmt.Errorf("%w: l requires Label+Value", ErrMalformedOption)
			}
			vote, err := parseVote(value)
			if err != nil {
				return opts, err
			}
			opts.Votes = append(opts.Votes, vote)
		default:
			// Unknown keys are ignored, not rejected.
		}
	}
	return opts, nil
}

// parseVote splits "Code-Review+2" or "Verified-1" into label and value.
// Label names may themselves contain dashes, so the split point is the last
// sign that starts a valid integer suffix.
func parseVote(s string) (Vote, error) {
	for i := len(s) - 1; i > 0; i-- {
		c := s[i]
		if c != '+' && c != '-' {
			continue
		}
		value, err := strconv.Atoi(s[i:])
		if err != nil {
			continue
		}
		label := s[:i]
		if label == "" {
			break
		}
		return Vote{Label: label, Value: value}, nil
	}
	return Vote{}, fmt.Errorf("%w: %q is not Label+Value", ErrMalformedOption, s)
}
