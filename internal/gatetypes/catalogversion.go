package gatetypes

// catalogDeprecatedSentinel is the error type behind ErrCatalogDeprecated,
// returned by ResolveCatalogVersion when a credential's pin refers to a version below the catalog's
// min-compatible version. It is a permanent, non-recoverable condition:
// no amount of retrying resolves it, only reissuing the credential does.
type catalogDeprecatedSentinel struct{}

func (catalogDeprecatedSentinel) Error() string { return "catalog_version_deprecated" }

// ErrCatalogDeprecated is returned by ResolveCatalogVersion.
var ErrCatalogDeprecated error = catalogDeprecatedSentinel{}

// ResolveCatalogVersion implements the version resolution rule: no pin
// resolves to current; a pin below min-compatible is always deprecated; a
// pin at or above min-compatible resolves to that version if still
// retained, else falls forward to current (current is always a
// superset-or-later of any compatible version).
func ResolveCatalogVersion(cat *Catalog, pinnedVersion int, hasPin bool) (CatalogVersionData, error) {
	if !hasPin {
		return cat.Current, nil
	}
	if pinnedVersion < cat.MinCompatibleVersion {
		return CatalogVersionData{}, ErrCatalogDeprecated
	}
	if pinnedVersion == cat.Current.Version {
		return cat.Current, nil
	}
	if v, ok := cat.Older[pinnedVersion]; ok {
		return v, nil
	}
	return cat.Current, nil
}
