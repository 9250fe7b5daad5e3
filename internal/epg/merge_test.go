// SPDX-License-Identifier: MIT
package epg

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const guideA = `<?xml version="1.0" encoding="UTF-8"?>
<tv>
  <channel id="Rai 1"><display-name>Rai 1</display-name></channel>
  <channel id="Canale 5"><display-name>Canale 5</display-name></channel>
  <programme start="20260101000000 +0000" stop="20260101010000 +0000" channel="Rai 1">
    <title lang="it">Telegiornale</title>
  </programme>
</tv>`

const guideB = `<?xml version="1.0" encoding="UTF-8"?>
<tv>
  <channel id="rai1"><display-name>Rai 1 HD</display-name></channel>
  <channel id="la7"><display-name>La7</display-name></channel>
  <programme start="20260101000000 +0000" stop="20260101003000 +0000" channel="la7">
    <title>News</title>
  </programme>
</tv>`

func serveXML(t *testing.T, body string, gzipped bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !gzipped {
			_, _ = w.Write([]byte(body))
			return
		}
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		_, _ = gw.Write([]byte(body))
		_ = gw.Close()
		_, _ = w.Write(buf.Bytes())
	}))
}

func TestMergeCombinesAndDeduplicates(t *testing.T) {
	srvA := serveXML(t, guideA, false)
	defer srvA.Close()
	srvB := serveXML(t, guideB, true) // gzip without .gz extension, sniffed
	defer srvB.Close()

	tv, err := NewMerger().Merge(context.Background(), []string{srvA.URL, srvB.URL})
	require.NoError(t, err)

	// "Rai 1" and "rai1" collapse to the same id; the first source wins.
	ids := make([]string, 0, len(tv.Channels))
	for _, ch := range tv.Channels {
		ids = append(ids, ch.ID)
	}
	if diff := cmp.Diff([]string{"rai1", "canale5", "la7"}, ids); diff != "" {
		t.Errorf("channel ids mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, tv.Programs, 2)
	assert.Equal(t, "rai1", tv.Programs[0].Channel)
	assert.Equal(t, "la7", tv.Programs[1].Channel)
}

func TestMergeSkipsFailingSource(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer bad.Close()
	good := serveXML(t, guideA, false)
	defer good.Close()

	tv, err := NewMerger().Merge(context.Background(), []string{bad.URL, good.URL})
	require.NoError(t, err)
	assert.Len(t, tv.Channels, 2)
}

func TestMergeFailsWhenAllSourcesFail(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusServiceUnavailable)
	}))
	defer bad.Close()

	_, err := NewMerger().Merge(context.Background(), []string{bad.URL})
	assert.Error(t, err)
}

func TestMergeEmptySourceList(t *testing.T) {
	tv, err := NewMerger().Merge(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, tv.Channels)
}

func TestNormalizeChannelID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Rai 1", "rai1"},
		{"  CANALE 5  ", "canale5"},
		{"la7", "la7"},
		{"", ""},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, NormalizeChannelID(tc.in), "input %q", tc.in)
	}
}

func TestWriteIsDeterministic(t *testing.T) {
	tv := &TV{
		Generator: "listpub",
		Channels:  []Channel{{ID: "rai1", DisplayName: []string{"Rai 1"}}},
		Programs: []Programme{{
			Start:   "20260101000000 +0000",
			Stop:    "20260101010000 +0000",
			Channel: "rai1",
			Title:   Title{Lang: "it", Value: "Telegiornale"},
		}},
	}
	var a, b bytes.Buffer
	require.NoError(t, Write(&a, tv))
	require.NoError(t, Write(&b, tv))
	assert.Equal(t, a.Bytes(), b.Bytes())

	got, err := Decode(bytes.NewReader(a.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, tv.Channels, got.Channels)
	assert.Equal(t, tv.Programs, got.Programs)
}
