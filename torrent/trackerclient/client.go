// Package trackerclient announces a torrent download to HTTP(S) trackers
// and parses the peer lists they return (spec section 4.3).
package trackerclient

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/angelasoler/hypertube/bencode"
	"github.com/angelasoler/hypertube/core"
	"github.com/angelasoler/hypertube/utils/httputil"
	"github.com/angelasoler/hypertube/utils/log"
)

// Event is the optional lifecycle event reported on an announce.
type Event string

const (
	// EventNone is a regular, periodic announce.
	EventNone Event = ""
	// EventStarted is sent on the first announce for a download.
	EventStarted Event = "started"
	// EventCompleted is sent the first time a download reaches 100%.
	EventCompleted Event = "completed"
	// EventStopped is sent on shutdown or cancellation.
	EventStopped Event = "stopped"
)

const (
	announceTimeout = 10 * time.Second
	defaultNumWant  = 50
)

// Request describes one announce call.
type Request struct {
	InfoHash   core.InfoHash
	PeerID     core.PeerID
	Port       uint16
	Uploaded   int64
	Downloaded int64
	Left       int64
	Event      Event
}

// Response is a tracker's answer to an announce.
type Response struct {
	// Interval is the number of seconds the client should wait before the
	// next periodic announce.
	Interval int64
	Peers    []core.PeerInfo
}

// FailureError wraps a tracker's bencoded "failure reason".
type FailureError struct {
	Tracker string
	Reason  string
}

func (e FailureError) Error() string {
	return fmt.Sprintf("tracker %s: %s", e.Tracker, e.Reason)
}

// Client announces to the trackers associated with a torrent.
type Client interface {
	Announce(trackers []string, req Request) (*Response, error)
}

type client struct{}

// New creates a Client.
func New() Client {
	return &client{}
}

// Announce tries each tracker in order, skipping any that aren't HTTP(S),
// and returns the first successful response. All per-tracker errors are
// logged; only the last one is surfaced if every tracker fails, per spec
// section 4.3.
func (c *client) Announce(trackers []string, req Request) (*Response, error) {
	var lastErr error
	tried := 0
	for _, tracker := range trackers {
		if !strings.HasPrefix(tracker, "http://") && !strings.HasPrefix(tracker, "https://") {
			continue
		}
		tried++
		resp, err := c.announceOne(tracker, req)
		if err != nil {
			log.Errorf("announce to %s failed: %s", tracker, err)
			lastErr = err
			continue
		}
		return resp, nil
	}
	if tried == 0 {
		return nil, fmt.Errorf("no HTTP(S) trackers available")
	}
	return nil, lastErr
}

func (c *client) announceOne(tracker string, req Request) (*Response, error) {
	announceURL := buildAnnounceURL(tracker, req)

	resp, err := httputil.Get(announceURL, httputil.SendTimeout(announceTimeout))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	val, err := bencode.NewDecoder(resp.Body).Decode()
	if err != nil {
		return nil, fmt.Errorf("decode tracker response: %s", err)
	}

	if failure := val.Get("failure reason"); failure != nil {
		reason, _ := failure.AsString()
		return nil, FailureError{Tracker: tracker, Reason: reason}
	}

	var interval int64
	if iv := val.Get("interval"); iv != nil {
		interval, _ = iv.AsInt()
	}

	peers, err := parsePeers(val.Get("peers"))
	if err != nil {
		return nil, fmt.Errorf("parse peers: %s", err)
	}

	return &Response{Interval: interval, Peers: peers}, nil
}

// buildAnnounceURL builds the announce GET URL. info_hash and peer_id are raw
// 20-byte strings, percent-encoded per byte per spec section 4.3 -- not
// url.Values.Encode, which treats its inputs as UTF-8 text and would mangle
// raw bytes above 0x7F.
func buildAnnounceURL(tracker string, req Request) string {
	var b strings.Builder
	b.WriteString(tracker)
	if strings.Contains(tracker, "?") {
		b.WriteString("&")
	} else {
		b.WriteString("?")
	}
	b.WriteString("info_hash=")
	b.WriteString(escapeRawBytes(req.InfoHash.Bytes()))
	b.WriteString("&peer_id=")
	b.WriteString(escapeRawBytes(req.PeerID.Bytes()))
	b.WriteString("&port=")
	b.WriteString(strconv.Itoa(int(req.Port)))
	b.WriteString("&uploaded=")
	b.WriteString(strconv.FormatInt(req.Uploaded, 10))
	b.WriteString("&downloaded=")
	b.WriteString(strconv.FormatInt(req.Downloaded, 10))
	b.WriteString("&left=")
	b.WriteString(strconv.FormatInt(req.Left, 10))
	b.WriteString("&compact=1")
	b.WriteString("&numwant=")
	b.WriteString(strconv.Itoa(defaultNumWant))
	if req.Event != EventNone {
		b.WriteString("&event=")
		b.WriteString(string(req.Event))
	}
	return b.String()
}

// escapeRawBytes percent-encodes every byte of b, matching the tracker
// convention of percent-encoding the raw 20-byte info_hash/peer_id rather
// than any textual representation of them.
func escapeRawBytes(b []byte) string {
	var out strings.Builder
	for _, c := range b {
		if isUnreserved(c) {
			out.WriteByte(c)
		} else {
			fmt.Fprintf(&out, "%%%02X", c)
		}
	}
	return out.String()
}

func isUnreserved(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') ||
		c == '-' || c == '_' || c == '.' || c == '~'
}

// parsePeers parses either the compact (byte string of 6-byte entries) or
// dictionary-list peer format (spec section 4.3).
func parsePeers(v *bencode.Value) ([]core.PeerInfo, error) {
	if v == nil {
		return nil, nil
	}
	switch v.Kind {
	case bencode.KindBytes:
		return parseCompactPeers(v.Bytes)
	case bencode.KindList:
		return parseDictPeers(v.List)
	default:
		return nil, fmt.Errorf("unexpected peers value kind %s", v.Kind)
	}
}

func parseCompactPeers(b []byte) ([]core.PeerInfo, error) {
	if len(b)%6 != 0 {
		return nil, fmt.Errorf("compact peers length %d not a multiple of 6", len(b))
	}
	n := len(b) / 6
	peers := make([]core.PeerInfo, n)
	for i := 0; i < n; i++ {
		entry := b[i*6 : (i+1)*6]
		ip := net.IPv4(entry[0], entry[1], entry[2], entry[3])
		port := uint16(entry[4])<<8 | uint16(entry[5])
		peers[i] = core.PeerInfo{IP: ip, Port: port}
	}
	return peers, nil
}

func parseDictPeers(list []*bencode.Value) ([]core.PeerInfo, error) {
	peers := make([]core.PeerInfo, 0, len(list))
	for _, item := range list {
		if item.Kind != bencode.KindDict {
			return nil, fmt.Errorf("peer entry is not a dictionary")
		}
		ipVal := item.Get("ip")
		if ipVal == nil {
			return nil, fmt.Errorf("peer entry missing ip")
		}
		ipStr, err := ipVal.AsString()
		if err != nil {
			return nil, fmt.Errorf("peer ip: %s", err)
		}
		ip := net.ParseIP(ipStr)
		if ip == nil {
			return nil, fmt.Errorf("invalid peer ip %q", ipStr)
		}

		portVal := item.Get("port")
		if portVal == nil {
			return nil, fmt.Errorf("peer entry missing port")
		}
		port, err := portVal.AsInt()
		if err != nil {
			return nil, fmt.Errorf("peer port: %s", err)
		}

		peer := core.PeerInfo{IP: ip, Port: uint16(port)}
		if idVal := item.Get("peer id"); idVal != nil {
			idBytes, err := idVal.AsBytes()
			if err == nil {
				if pid, err := core.NewPeerIDFromBytes(idBytes); err == nil {
					peer.PeerID = pid
					peer.HasPeerID = true
				}
			}
		}
		peers = append(peers, peer)
	}
	return peers, nil
}
