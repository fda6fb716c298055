package discovery

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/milux/ATEM-Tally/pkg/wire"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeTXT creates the TXT records of a tally server.
func EncodeTXT(info *ServiceInfo) TXTRecordMap {
	txt := make(TXTRecordMap)

	txt[TXTKeyMaxInput] = strconv.Itoa(info.MaxInput)
	txt[TXTKeyFormats] = encodeFormats(info.Formats)
	if info.SwitcherUp {
		txt[TXTKeySwitcher] = SwitcherUp
	} else {
		txt[TXTKeySwitcher] = SwitcherDown
	}

	if info.Version != "" {
		txt[TXTKeyVersion] = info.Version
	}
	return txt
}

// DecodeTXT parses the TXT records of a tally server. max and fmt are
// required.
func DecodeTXT(txt TXTRecordMap) (*ServiceInfo, error) {
	info := &ServiceInfo{}

	maxStr, ok := txt[TXTKeyMaxInput]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyMaxInput)
	}
	n, err := strconv.Atoi(maxStr)
	if err != nil || n < 1 || n > 254 {
		return nil, fmt.Errorf("%w: %s=%q", ErrInvalidTXTRecord, TXTKeyMaxInput, maxStr)
	}
	info.MaxInput = n

	fmtStr, ok := txt[TXTKeyFormats]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyFormats)
	}
	info.Formats, err = parseFormats(fmtStr)
	if err != nil {
		return nil, err
	}

	info.Version = txt[TXTKeyVersion]
	info.SwitcherUp = txt[TXTKeySwitcher] == SwitcherUp
	return info, nil
}

func encodeFormats(formats []wire.Format) string {
	strs := make([]string, len(formats))
	for i, f := range formats {
		strs[i] = strings.ToLower(f.String())
	}
	return strings.Join(strs, ",")
}

func parseFormats(s string) ([]wire.Format, error) {
	var formats []wire.Format
	for _, p := range strings.Split(s, ",") {
		switch strings.TrimSpace(p) {
		case "legacy":
			formats = append(formats, wire.FormatLegacy)
		case "extended":
			formats = append(formats, wire.FormatExtended)
		case "":
		default:
			return nil, fmt.Errorf("%w: unknown format %q", ErrInvalidTXTRecord, p)
		}
	}
	if len(formats) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyFormats)
	}
	return formats, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to sorted "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	slices.Sort(result)
	return result
}

// StringsToTXTRecords parses "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, found := strings.Cut(s, "=")
		if k == "" {
			continue
		}
		if !found {
			// Key without value (boolean flag)
			v = ""
		}
		txt[k] = v
	}
	return txt
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: instance name", ErrMissingRequired)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}
