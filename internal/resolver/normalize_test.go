// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package resolver

import (
	"testing"
	"time"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeResults_ScriptRecord(t *testing.T) {
	raw := []any{map[string]any{
		"url":      "http://x/a.mp3",
		"artist":   "Foo",
		"track":    "Bar",
		"duration": int64(185),
	}}

	results, rejected := normalizeResults("Test", raw)

	require.Empty(t, rejected)
	require.Len(t, results, 1)
	r := results[0]
	assert.Equal(t, 185*time.Second, r.Track.Duration)
	assert.Equal(t, "audio/mpeg", r.MimeType)
	assert.Equal(t, "Test", r.Provenance)
	assert.Len(t, r.ID, 36)
}

func TestNormalizeResults_PreviewDroppedSilently(t *testing.T) {
	raw := []any{map[string]any{
		"url":            "http://x/b",
		"durationString": "00:02:05",
		"preview":        true,
	}}

	results, rejected := normalizeResults("Test", raw)

	assert.Empty(t, results)
	assert.Empty(t, rejected)
}

func TestNormalizeResults_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		record any
		reason string
		code   string
	}{
		{
			name:   "not an object",
			record: "http://x/a.mp3",
			reason: ReasonNotObject,
			code:   CodeMalformedRecord,
		},
		{
			name:   "missing url",
			record: map[string]any{"artist": "A", "track": "T"},
			reason: ReasonMissingURL,
			code:   CodeMalformedRecord,
		},
		{
			name:   "no identity",
			record: map[string]any{"url": "http://x/a.mp3", "artist": "A"},
			reason: ReasonNoIdentity,
			code:   CodeMalformedRecord,
		},
		{
			name:   "unknown extension",
			record: map[string]any{"url": "http://x/a.xyz", "artist": "A", "track": "T"},
			reason: ReasonNoMimetype,
			code:   CodeUnresolvedMimetype,
		},
		{
			name:   "no extension",
			record: map[string]any{"url": "http://x/stream", "artist": "A", "track": "T"},
			reason: ReasonNoMimetype,
			code:   CodeUnresolvedMimetype,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, rejected := normalizeResults("Test", []any{tt.record})

			assert.Empty(t, results)
			require.Len(t, rejected, 1)
			assert.Equal(t, tt.reason, rejected[0].reason)
			oopsErr, ok := oops.AsOops(rejected[0].err)
			require.True(t, ok)
			assert.Equal(t, tt.code, oopsErr.Code())
		})
	}
}

func TestNormalizeResults_BadRecordsDoNotAbortBatch(t *testing.T) {
	raw := []any{
		map[string]any{"url": "http://x/1.ogg", "artist": "A", "track": "One"},
		map[string]any{"artist": "A", "track": "Two"},
		nil,
		map[string]any{"url": "http://x/3.flac", "album": "Album", "albumpos": int64(3)},
	}

	results, rejected := normalizeResults("Test", raw)

	require.Len(t, results, 2)
	assert.Equal(t, "One", results[0].Track.Title)
	assert.Equal(t, 3, results[1].Track.AlbumPos)
	assert.Len(t, rejected, 2)
}

func TestNormalizeRecord_Fields(t *testing.T) {
	rec := map[string]any{
		"url":         " http://x/a ",
		"artist":      " Artist ",
		"album":       "Album",
		"track":       "Title",
		"albumpos":    "4",
		"discnumber":  float64(2),
		"year":        int64(1999),
		"bitrate":     int64(256),
		"size":        "4096",
		"score":       "0.75",
		"checked":     true,
		"mimetype":    "audio/x-custom",
		"purchaseUrl": "http://shop",
		"linkUrl":     "http://link",
	}

	r, rej := normalizeRecord(0, rec)

	require.Nil(t, rej)
	assert.Equal(t, "http://x/a", r.URL)
	assert.Equal(t, Track{
		Artist:     "Artist",
		Album:      "Album",
		Title:      "Title",
		AlbumPos:   4,
		DiscNumber: 2,
		Year:       1999,
	}, r.Track)
	assert.Equal(t, 256, r.Bitrate)
	assert.Equal(t, int64(4096), r.Size)
	assert.InDelta(t, 0.75, r.Score, 1e-9)
	assert.True(t, r.Checked)
	assert.Equal(t, "audio/x-custom", r.MimeType)
	assert.Equal(t, "http://shop", r.PurchaseURL)
	assert.Equal(t, "http://link", r.LinkURL)
}

func TestNormalizeRecord_MimetypeFromExtensionField(t *testing.T) {
	r, rej := normalizeRecord(0, map[string]any{
		"url":       "http://x/stream?id=1",
		"extension": "M4A",
		"artist":    "A",
		"track":     "T",
	})
	require.Nil(t, rej)
	assert.Equal(t, "audio/mp4", r.MimeType)
}

func TestNormalizeRecord_DurationPrecedence(t *testing.T) {
	tests := []struct {
		name string
		rec  map[string]any
		want time.Duration
	}{
		{"seconds", map[string]any{"duration": int64(10), "durationString": "00:00:20"}, 10 * time.Second},
		{"zero falls back to string", map[string]any{"duration": int64(0), "durationString": "00:00:20"}, 20 * time.Second},
		{"string only", map[string]any{"durationString": "01:00:00"}, time.Hour},
		{"neither", map[string]any{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := map[string]any{"url": "http://x/a.mp3", "artist": "A", "track": "T"}
			for k, v := range tt.rec {
				rec[k] = v
			}
			r, rej := normalizeRecord(0, rec)
			require.Nil(t, rej)
			assert.Equal(t, tt.want, r.Track.Duration)
		})
	}
}

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"00:02:05", 125 * time.Second},
		{"1:00:00", time.Hour},
		{"99:59:59", 99*time.Hour + 59*time.Minute + 59*time.Second},
		{" 00:00:01 ", time.Second},
		{"00:60:00", 0},
		{"00:00:60", 0},
		{"02:05", 0},
		{"100:00:00", 0},
		{"aa:bb:cc", 0},
		{"", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseDurationString(tt.in))
		})
	}
}

func TestMimetypeForExtension(t *testing.T) {
	for ext, want := range map[string]string{
		"mp3":   "audio/mpeg",
		".MP3":  "audio/mpeg",
		"ogg":   "application/ogg",
		"oga":   "audio/ogg",
		"flac":  "audio/flac",
		" aif ": "audio/aiff",
		"wv":    "audio/x-wavpack",
	} {
		got, ok := MimetypeForExtension(ext)
		assert.True(t, ok, ext)
		assert.Equal(t, want, got, ext)
	}
	_, ok := MimetypeForExtension("txt")
	assert.False(t, ok)
}

func TestNormalizeNames(t *testing.T) {
	got := normalizeNames([]any{" A ", "", "  ", nil, "B", int64(7)})
	assert.Equal(t, []string{"A", "B", "7"}, got)
	assert.Empty(t, normalizeNames(nil))
}

func TestNormalizeAlbums(t *testing.T) {
	got := normalizeAlbums(" Artist ", []any{"One", " ", "Two"})
	assert.Equal(t, []Album{{Artist: "Artist", Name: "One"}, {Artist: "Artist", Name: "Two"}}, got)

	assert.Nil(t, normalizeAlbums("  ", []any{"One"}), "albums need an artist")
}
