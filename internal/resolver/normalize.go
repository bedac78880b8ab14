// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package resolver

import (
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Rejection reasons used in logs and metrics.
const (
	ReasonNotObject    = "not_object"
	ReasonMissingURL   = "missing_url"
	ReasonNoIdentity   = "no_identity"
	ReasonNoMimetype   = "no_mimetype"
	ReasonMissingField = "missing_field"
)

// extensionMimetypes maps file extensions to mimetypes for records that omit one.
var extensionMimetypes = map[string]string{
	"mp3":  "audio/mpeg",
	"ogg":  "application/ogg",
	"oga":  "audio/ogg",
	"mpc":  "audio/x-musepack",
	"wma":  "audio/x-ms-wma",
	"aac":  "audio/mp4",
	"m4a":  "audio/mp4",
	"mp4":  "audio/mp4",
	"flac": "audio/flac",
	"aiff": "audio/aiff",
	"aif":  "audio/aiff",
	"wv":   "audio/x-wavpack",
}

// MimetypeForExtension returns the mimetype for a file extension, with or
// without the leading dot.
func MimetypeForExtension(ext string) (string, bool) {
	m, ok := extensionMimetypes[strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))]
	return m, ok
}

var durationPattern = regexp.MustCompile(`^(\d{1,2}):(\d{2}):(\d{2})$`)

// ParseDurationString parses "hh:mm:ss". Anything else yields zero.
func ParseDurationString(s string) time.Duration {
	m := durationPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	ss, _ := strconv.Atoi(m[3])
	if mm >= 60 || ss >= 60 {
		return 0
	}
	return time.Duration(h*3600+mm*60+ss) * time.Second
}

// rejection is a record dropped by the normalizer.
type rejection struct {
	reason string
	err    error
}

// normalizeResults converts raw script records into Results tagged with
// provenance. Invalid records are dropped and reported; preview records are
// dropped silently.
func normalizeResults(provenance string, raw []any) ([]Result, []rejection) {
	results := make([]Result, 0, len(raw))
	var rejected []rejection

	for i, item := range raw {
		rec, ok := asMap(item)
		if !ok {
			rejected = append(rejected, rejection{ReasonNotObject, ErrMalformedRecord(i, "record is not an object")})
			continue
		}
		if asBool(rec["preview"]) {
			continue
		}
		r, rej := normalizeRecord(i, rec)
		if rej != nil {
			rejected = append(rejected, *rej)
			continue
		}
		r.Provenance = provenance
		results = append(results, r)
	}
	return results, rejected
}

func normalizeRecord(i int, rec map[string]any) (Result, *rejection) {
	var duration time.Duration
	if d, ok := asInt(rec["duration"]); ok && d > 0 {
		duration = time.Duration(d) * time.Second
	} else {
		duration = ParseDurationString(asString(rec["durationString"]))
	}

	link := strings.TrimSpace(asString(rec["url"]))
	if link == "" {
		return Result{}, &rejection{ReasonMissingURL, ErrMalformedRecord(i, "missing url")}
	}

	track := Track{
		Artist:   strings.TrimSpace(asString(rec["artist"])),
		Album:    strings.TrimSpace(asString(rec["album"])),
		Title:    strings.TrimSpace(asString(rec["track"])),
		Duration: duration,
	}
	if n, ok := asInt(rec["albumpos"]); ok && n > 0 {
		track.AlbumPos = int(n)
	}
	if n, ok := asInt(rec["discnumber"]); ok && n > 0 {
		track.DiscNumber = int(n)
	}
	if n, ok := asInt(rec["year"]); ok && n > 0 {
		track.Year = int(n)
	}
	if !hasIdentity(track) {
		return Result{}, &rejection{ReasonNoIdentity, ErrMalformedRecord(i, "no artist and track, or album and position")}
	}

	r := Result{
		ID:          uuid.NewString(),
		Track:       track,
		URL:         link,
		PurchaseURL: asString(rec["purchaseUrl"]),
		LinkURL:     asString(rec["linkUrl"]),
		Checked:     asBool(rec["checked"]),
	}
	if n, ok := asInt(rec["bitrate"]); ok && n > 0 {
		r.Bitrate = int(n)
	}
	if n, ok := asInt(rec["size"]); ok && n > 0 {
		r.Size = n
	}
	if f, ok := asFloat(rec["score"]); ok {
		r.Score = f
	}

	r.MimeType = strings.TrimSpace(asString(rec["mimetype"]))
	if r.MimeType == "" {
		ext := asString(rec["extension"])
		if ext == "" {
			ext = urlExtension(link)
		}
		r.MimeType, _ = MimetypeForExtension(ext)
	}
	if r.MimeType == "" {
		return Result{}, &rejection{ReasonNoMimetype, ErrUnresolvedMimetype(i, link)}
	}
	return r, nil
}

func hasIdentity(t Track) bool {
	return (t.Artist != "" && t.Title != "") || (t.Album != "" && t.AlbumPos > 0)
}

func urlExtension(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		return path.Ext(u.Path)
	}
	return path.Ext(raw)
}

// normalizeNames trims browse names and drops blank entries.
func normalizeNames(raw []any) []string {
	names := make([]string, 0, len(raw))
	for _, item := range raw {
		name := strings.TrimSpace(asString(item))
		if name == "" {
			continue
		}
		names = append(names, name)
	}
	return names
}

// normalizeAlbums builds album entries for artist. Without an artist
// there is no valid album entry.
func normalizeAlbums(artist string, raw []any) []Album {
	artist = strings.TrimSpace(artist)
	if artist == "" {
		return nil
	}
	names := normalizeNames(raw)
	albums := make([]Album, 0, len(names))
	for _, name := range names {
		albums = append(albums, Album{Artist: artist, Name: name})
	}
	return albums
}
