// Package activation implements offline activation codes: generation,
// checksum validation, single-use redemption, and the ledger of consumed
// codes.
package activation

import (
	"fmt"
	"sort"

	apperrors "arcacli/internal/errors"
)

// Bundle identifies a named set of capability actions granted together by
// one activation code.
type Bundle string

const (
	BundlePro        Bundle = "pro"
	BundleOptimizer  Bundle = "optimizer"
	BundleMilestones Bundle = "milestones"
	BundleExportPro  Bundle = "exportpro"
)

// bundleActions is the canonical bundle table. Static configuration, not
// persisted state; extending it is backward compatible because codes
// embed the bundle identifier, not the action list.
var bundleActions = map[Bundle][]string{
	BundlePro:        {"save.modify"},
	BundleOptimizer:  {"optimizer.run", "optimizer.apply"},
	BundleMilestones: {"milestones.track"},
	BundleExportPro:  {"export.csv", "export.report"},
}

// bundleCodes maps bundles to the two-character identifier embedded in
// activation codes. These values are part of the wire format and must
// never be reused for a different bundle. Both characters must come from
// the entry charset or the code would reject its own normalization.
var bundleCodes = map[Bundle]string{
	BundlePro:        "PR",
	BundleOptimizer:  "ZP",
	BundleMilestones: "MS",
	BundleExportPro:  "EX",
}

// Actions returns a copy of the action set granted by the bundle.
func (b Bundle) Actions() ([]string, error) {
	actions, ok := bundleActions[b]
	if !ok {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownBundle, string(b))
	}
	out := make([]string, len(actions))
	copy(out, actions)
	return out, nil
}

// Valid reports whether the bundle exists in the table.
func (b Bundle) Valid() bool {
	_, ok := bundleActions[b]
	return ok
}

// wireCode returns the bundle's embedded code identifier.
func (b Bundle) wireCode() (string, error) {
	code, ok := bundleCodes[b]
	if !ok {
		return "", fmt.Errorf("%w: %q", apperrors.ErrUnknownBundle, string(b))
	}
	return code, nil
}

// bundleFromWireCode resolves the embedded identifier back to a bundle.
func bundleFromWireCode(code string) (Bundle, bool) {
	for b, c := range bundleCodes {
		if c == code {
			return b, true
		}
	}
	return "", false
}

// Bundles lists all known bundles in stable order.
func Bundles() []Bundle {
	out := make([]Bundle, 0, len(bundleActions))
	for b := range bundleActions {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
