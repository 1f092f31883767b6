package profile

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces canonical JSON for fingerprinting compiled
// recipes. Two recipes that compile to the same Profile always serialize to
// identical bytes, so the fingerprint is stable across hosts and restarts.
//
// Rules:
//  1. Object keys sorted by UTF-16 code units (RFC 8785 ordering)
//  2. Strings NFC normalized, no HTML escaping
//  3. No floats: numeric setpoints are converted to fixed-point integers
//     before serialization (see canonicalMap)
//  4. No null
func MarshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		return fmt.Errorf("null is forbidden in canonical JSON")
	case string:
		return writeCanonicalString(buf, val)
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case int:
		fmt.Fprintf(buf, "%d", val)
		return nil
	case int64:
		fmt.Fprintf(buf, "%d", val)
		return nil
	case float32, float64:
		return fmt.Errorf("floats are forbidden in canonical JSON: %v", val)
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
		return nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			return utf16Less(keys[i], keys[j])
		})
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonicalString(buf, k); err != nil {
				return fmt.Errorf("object key %q: %w", k, err)
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return fmt.Errorf("object[%q]: %w", k, err)
			}
		}
		buf.WriteByte('}')
		return nil
	default:
		return fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
}

// writeCanonicalString NFC-normalizes and encodes without HTML escaping, per
// the RFC 8785 string rules.
func writeCanonicalString(buf *bytes.Buffer, s string) error {
	normalized := norm.NFC.String(s)
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return err
	}
	b := tmp.Bytes()
	// json.Encoder appends a newline.
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
	}
	buf.Write(b)
	return nil
}

// utf16Less orders strings by UTF-16 code units, which differs from byte
// order for characters outside the BMP.
func utf16Less(a, b string) bool {
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			return ua[i] < ub[i]
		}
	}
	return len(ua) < len(ub)
}

// fingerprintDomain separates profile hashes from any other sha256 use in
// the system.
const fingerprintDomain = "dryden/profile/v1"

// Fingerprint returns the content-addressed identity of the compiled recipe
// as a hex sha256. Snapshots record it so a resume against an edited recipe
// can be detected and logged.
func (pr *Profile) Fingerprint() (string, error) {
	canonical, err := MarshalCanonical(pr.canonicalMap())
	if err != nil {
		return "", fmt.Errorf("fingerprint recipe %q: %w", pr.Name, err)
	}
	h := sha256.New()
	h.Write([]byte(fingerprintDomain))
	h.Write([]byte{0})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalMap renders the profile with all numerics as fixed-point integers
// (millis for setpoints, seconds for durations) so the canonical form never
// contains floats.
func (pr *Profile) canonicalMap() map[string]any {
	phases := make([]any, len(pr.Phases))
	for i, ps := range pr.Phases {
		sp := ps.Setpoints
		phases[i] = map[string]any{
			"phase":            ps.Phase.String(),
			"duration_seconds": int64(ps.Duration.Seconds()),
			"temp_f":           milli(sp.TempF),
			"temp_tol_f":       milli(sp.TempToleranceF),
			"dew_point_f":      milli(sp.DewPointF),
			"dew_point_tol_f":  milli(sp.DewPointToleranceF),
			"humidity_min":     milli(sp.HumidityMin),
			"humidity_max":     milli(sp.HumidityMax),
			"vpd_min":          milli(sp.VPDMin),
			"vpd_max":          milli(sp.VPDMax),
		}
	}
	return map[string]any{
		"name":                  pr.Name,
		"water_activity_target": milli(pr.WaterActivityTarget),
		"transition_seconds":    int64(pr.TransitionWindow.Seconds()),
		"phases":                phases,
	}
}

// milli converts a setpoint to integer thousandths. Recipe values are
// human-entered to at most two decimals, so this is lossless in practice.
func milli(v float64) int64 {
	if v >= 0 {
		return int64(v*1000 + 0.5)
	}
	return -int64(-v*1000 + 0.5)
}
