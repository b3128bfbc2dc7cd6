package signal

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidIndex reports an index description that cannot be normalized.
var ErrInvalidIndex = errors.New("invalid index description")

// IndexContext is the normalized description of a tradeable index.
type IndexContext struct {
	Key        string
	Segment    string
	SecurityID string
	LotSize    int
	Options    map[string]string
}

// ATM returns the at-the-money option security id for the direction, falling back to the generic atm_sid.
func (ix IndexContext) ATM(dir Direction) string {
	switch dir {
	case Call:
		if sid := ix.Options["atm_ce_sid"]; sid != "" {
			return sid
		}
	case Put:
		if sid := ix.Options["atm_pe_sid"]; sid != "" {
			return sid
		}
	}
	return ix.Options["atm_sid"]
}

// OptionSegment is the segment the index's options trade on.
func (ix IndexContext) OptionSegment() string {
	if seg := ix.Options["segment"]; seg != "" {
		return seg
	}
	return ix.Segment
}

// OptionCandidate overrides the default ATM option a strategy evaluates.
type OptionCandidate struct {
	SecurityID string     `yaml:"security_id" json:"security_id"`
	Segment    string     `yaml:"segment" json:"segment"`
	Symbol     string     `yaml:"symbol" json:"symbol"`
	LotSize    int        `yaml:"lot_size" json:"lot_size"`
	Expiry     *time.Time `yaml:"expiry" json:"expiry,omitempty"`
}

// NormalizeIndex converts an arbitrarily shaped index description into an IndexContext.
// Keys at every depth are lower-cased strings, so "Key", :key and "KEY" resolve alike.
func NormalizeIndex(raw map[string]any) (IndexContext, error) {
	norm, _ := normalizeValue(raw).(map[string]any)
	if norm == nil {
		return IndexContext{}, fmt.Errorf("%w: empty", ErrInvalidIndex)
	}

	ix := IndexContext{
		Key:        scalarString(norm["key"]),
		Segment:    scalarString(norm["segment"]),
		SecurityID: scalarString(norm["sid"]),
		Options:    map[string]string{},
	}
	if ix.SecurityID == "" {
		ix.SecurityID = scalarString(norm["security_id"])
	}
	if ix.Key == "" {
		return IndexContext{}, fmt.Errorf("%w: missing key", ErrInvalidIndex)
	}
	ix.Key = strings.ToUpper(ix.Key)

	if lot := scalarString(norm["lot_size"]); lot != "" {
		n, err := strconv.ParseFloat(lot, 64)
		if err != nil {
			return IndexContext{}, fmt.Errorf("%w: lot_size %q", ErrInvalidIndex, lot)
		}
		ix.LotSize = int(n)
	}
	if ix.LotSize <= 0 {
		ix.LotSize = 1
	}

	if opts, ok := norm["options"].(map[string]any); ok {
		for k, v := range opts {
			if s := scalarString(v); s != "" {
				ix.Options[k] = s
			}
		}
	}
	return ix, nil
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[normalizeKey(k)] = normalizeValue(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[normalizeKey(fmt.Sprint(k))] = normalizeValue(val)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[normalizeKey(k)] = val
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeValue(val)
		}
		return out
	default:
		return v
	}
}

func normalizeKey(k string) string {
	k = strings.TrimSpace(k)
	k = strings.TrimPrefix(k, ":")
	return strings.ToLower(k)
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case fmt.Stringer:
		return t.String()
	case map[string]any, []any:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
