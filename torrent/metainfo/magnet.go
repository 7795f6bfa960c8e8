package metainfo

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/angelasoler/hypertube/core"
)

// MagnetLink is the subset of a torrent's identity recoverable from a magnet
// URI: an info hash, optional display name, and optional tracker hints.
// Unlike TorrentMetadata, it carries no piece table -- that must be fetched
// separately (spec is HTTP-tracker-only; no DHT/metadata-exchange).
type MagnetLink struct {
	InfoHash core.InfoHash
	Name     string
	Trackers []string
}

// ParseMagnetURI parses a "magnet:?xt=urn:btih:<40-hex>&dn=<name>&tr=<url>&..."
// URI per spec section 4.2. A missing or malformed info hash is an error;
// everything else is optional.
func ParseMagnetURI(raw string) (*MagnetLink, error) {
	if !strings.HasPrefix(raw, "magnet:?") {
		return nil, fmt.Errorf("not a magnet URI")
	}
	query := strings.TrimPrefix(raw, "magnet:?")

	values, err := url.ParseQuery(query)
	if err != nil {
		return nil, fmt.Errorf("parse query: %s", err)
	}

	var infoHash core.InfoHash
	var found bool
	for _, xt := range values["xt"] {
		const prefix = "urn:btih:"
		if strings.HasPrefix(xt, prefix) {
			hex := strings.TrimPrefix(xt, prefix)
			if len(hex) != 40 {
				return nil, fmt.Errorf("info hash %q must be 40 hex characters", hex)
			}
			infoHash, err = core.NewInfoHashFromHex(strings.ToLower(hex))
			if err != nil {
				return nil, fmt.Errorf("info hash: %s", err)
			}
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("magnet URI missing info hash (xt=urn:btih:...)")
	}

	return &MagnetLink{
		InfoHash: infoHash,
		Name:     values.Get("dn"),
		Trackers: values["tr"],
	}, nil
}
