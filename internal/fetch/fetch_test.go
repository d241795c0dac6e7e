package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/waqasraza123/deep-research-agent/internal/artifacts"
	"github.com/waqasraza123/deep-research-agent/internal/logging"
)

const simplePage = "<html><head><title>T</title></head><body>hi</body></html>"

type countingServer struct {
	*httptest.Server
	hits atomic.Int64
}

func newCountingServer(t *testing.T, handler http.HandlerFunc) *countingServer {
	t.Helper()
	cs := &countingServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(cs.Close)
	return cs
}

func htmlHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}
}

func newTestSession(t *testing.T, opts Options, limits Limits) (*Session, *artifacts.Store) {
	t.Helper()
	files, err := artifacts.New(filepath.Join(t.TempDir(), "runs"))
	require.NoError(t, err)
	if opts.Logger == nil {
		opts.Logger = logging.NewForTest()
	}
	fetcher := NewFetcher(files, opts)
	fetcher.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	session, err := fetcher.Session("run-1", limits)
	require.NoError(t, err)
	return session, files
}

func TestFetch_StoresHTMLSource(t *testing.T) {
	server := newCountingServer(t, htmlHandler(simplePage))
	session, files := newTestSession(t, Options{}, Limits{MaxSources: 1})

	source, err := session.Fetch(context.Background(), server.URL+"/page")
	require.NoError(t, err)
	require.False(t, source.CacheHit)

	meta := source.Metadata
	require.NotNil(t, meta.Title)
	require.Equal(t, "T", *meta.Title)
	require.False(t, meta.Truncated)
	require.Equal(t, http.StatusOK, meta.StatusCode)
	require.Equal(t, "text/html; charset=utf-8", meta.ContentType)
	require.Equal(t, server.URL+"/page", meta.FinalURL)
	require.Equal(t, "2026-01-02T03:04:05Z", meta.FetchedAt)
	require.Empty(t, meta.Links)

	hash := HashURL(server.URL + "/page")
	require.Len(t, hash, 40)
	require.Equal(t, TextPath(hash), meta.LocalTextPath)

	text, err := files.ReadFile("run-1", TextPath(hash))
	require.NoError(t, err)
	require.Contains(t, string(text), "hi")
	require.Equal(t, string(text), meta.Preview)

	raw, err := files.ReadFile("run-1", MetadataPath(hash))
	require.NoError(t, err)
	require.Equal(t, string(source.Raw), string(raw))
	require.Equal(t, 1, session.SeenCount())
}

func TestFetch_TruncatesOversizedBody(t *testing.T) {
	server := newCountingServer(t, htmlHandler(simplePage))
	session, files := newTestSession(t, Options{MaxPageChars: 2}, Limits{MaxSources: 1})

	source, err := session.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	require.True(t, source.Metadata.Truncated)

	text, err := files.ReadFile("run-1", source.Metadata.LocalTextPath)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(string(text), TruncatedMarker))
}

func TestFetch_TruncatesPlainTextByRunes(t *testing.T) {
	server := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("héllo wörld"))
	})
	session, files := newTestSession(t, Options{MaxPageChars: 4}, Limits{MaxSources: 1})

	source, err := session.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	text, err := files.ReadFile("run-1", source.Metadata.LocalTextPath)
	require.NoError(t, err)
	require.Equal(t, "héll"+TruncatedMarker, string(text))
	require.Nil(t, source.Metadata.Title)
}

func TestFetch_SecondCallIsCacheHit(t *testing.T) {
	server := newCountingServer(t, htmlHandler(simplePage))
	session, _ := newTestSession(t, Options{}, Limits{MaxSources: 2})

	first, err := session.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	second, err := session.Fetch(context.Background(), server.URL)
	require.NoError(t, err)

	require.True(t, second.CacheHit)
	require.Equal(t, first.Raw, second.Raw)
	require.Equal(t, int64(1), server.hits.Load())
	require.Equal(t, 1, session.SeenCount())
}

func TestFetch_CacheSurvivesNewSession(t *testing.T) {
	server := newCountingServer(t, htmlHandler(simplePage))
	session, _ := newTestSession(t, Options{}, Limits{MaxSources: 1})
	first, err := session.Fetch(context.Background(), server.URL)
	require.NoError(t, err)

	again, err := session.fetcher.Session("run-1", Limits{MaxSources: 1})
	require.NoError(t, err)
	second, err := again.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	require.True(t, second.CacheHit)
	require.Equal(t, first.Raw, second.Raw)
	require.Equal(t, int64(1), server.hits.Load())
}

func TestFetch_EnforcesSourceBudget(t *testing.T) {
	server := newCountingServer(t, htmlHandler(simplePage))
	session, _ := newTestSession(t, Options{}, Limits{MaxSources: 1})

	_, err := session.Fetch(context.Background(), server.URL+"/one")
	require.NoError(t, err)

	_, err = session.Fetch(context.Background(), server.URL+"/two")
	require.ErrorIs(t, err, ErrSourceBudgetExceeded)
	require.Equal(t, int64(1), server.hits.Load())

	_, err = session.Fetch(context.Background(), server.URL+"/one")
	require.NoError(t, err)
	require.Equal(t, int64(1), server.hits.Load())
}

func TestFetch_ZeroBudgetRejectsEverything(t *testing.T) {
	server := newCountingServer(t, htmlHandler(simplePage))
	session, _ := newTestSession(t, Options{}, Limits{MaxSources: 0})

	_, err := session.Fetch(context.Background(), server.URL)
	require.ErrorIs(t, err, ErrSourceBudgetExceeded)
	require.Zero(t, server.hits.Load())
}

func TestFetch_RejectsUnsupportedScheme(t *testing.T) {
	session, _ := newTestSession(t, Options{}, Limits{MaxSources: 3})
	for _, raw := range []string{"ftp://example.com/file", "file:///etc/passwd", "example.com", "HTTP://example.com"} {
		_, err := session.Fetch(context.Background(), raw)
		require.ErrorIs(t, err, ErrUnsupportedScheme, raw)
	}
	require.Zero(t, session.SeenCount())
}

func TestFetch_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	address := server.URL
	server.Close()
	session, _ := newTestSession(t, Options{}, Limits{MaxSources: 1})

	_, err := session.Fetch(context.Background(), address)
	require.ErrorIs(t, err, ErrFetchFailed)
	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	require.Equal(t, address, fetchErr.URL)
	require.Zero(t, session.SeenCount())
}

func TestFetch_StalledServerTimesOut(t *testing.T) {
	release := make(chan struct{})
	server := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)
	session, _ := newTestSession(t, Options{Timeout: 50 * time.Millisecond}, Limits{MaxSources: 1})

	started := time.Now()
	_, err := session.Fetch(context.Background(), server.URL)
	require.ErrorIs(t, err, ErrFetchFailed)
	require.Less(t, time.Since(started), 5*time.Second)
}

func TestFetch_NonTextPlaceholder(t *testing.T) {
	server := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "IMAGE/PNG")
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G', 0x00, 0xff})
	})
	session, files := newTestSession(t, Options{}, Limits{MaxSources: 1})

	source, err := session.Fetch(context.Background(), server.URL+"/img")
	require.NoError(t, err)
	require.Equal(t, "image/png", source.Metadata.ContentType)
	require.Nil(t, source.Metadata.Title)

	text, err := files.ReadFile("run-1", source.Metadata.LocalTextPath)
	require.NoError(t, err)
	require.Equal(t, "Non-text content-type: image/png\nURL: "+server.URL+"/img\nStatus: 200\n", string(text))
}

func TestFetch_OversizedNonTextIsNotMarkedTruncated(t *testing.T) {
	server := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte(strings.Repeat("x", 100)))
	})
	session, files := newTestSession(t, Options{MaxPageChars: 10}, Limits{MaxSources: 1})

	source, err := session.Fetch(context.Background(), server.URL+"/blob")
	require.NoError(t, err)
	require.False(t, source.Metadata.Truncated)

	text, err := files.ReadFile("run-1", source.Metadata.LocalTextPath)
	require.NoError(t, err)
	require.Equal(t, "Non-text content-type: application/octet-stream\nURL: "+server.URL+"/blob\nStatus: 200\n", string(text))
	require.NotContains(t, string(text), TruncatedMarker)
}

func TestFetch_PlainTextStoredVerbatim(t *testing.T) {
	body := "line one\n\n\n\n  line two  "
	server := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(body))
	})
	session, files := newTestSession(t, Options{}, Limits{MaxSources: 1})

	source, err := session.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	text, err := files.ReadFile("run-1", source.Metadata.LocalTextPath)
	require.NoError(t, err)
	require.Equal(t, body, string(text))
}

func TestFetch_DecodesDeclaredCharset(t *testing.T) {
	server := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=iso-8859-1")
		_, _ = w.Write([]byte("caf\xe9"))
	})
	session, files := newTestSession(t, Options{}, Limits{MaxSources: 1})

	source, err := session.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	text, err := files.ReadFile("run-1", source.Metadata.LocalTextPath)
	require.NoError(t, err)
	require.Equal(t, "café", string(text))
}

func TestFetch_RecordsFinalURLAfterRedirect(t *testing.T) {
	var server *countingServer
	server = newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, server.URL+"/new", http.StatusFound)
			return
		}
		htmlHandler(simplePage)(w, r)
	})
	session, _ := newTestSession(t, Options{}, Limits{MaxSources: 1})

	source, err := session.Fetch(context.Background(), server.URL+"/old")
	require.NoError(t, err)
	require.Equal(t, server.URL+"/old", source.Metadata.URL)
	require.Equal(t, server.URL+"/new", source.Metadata.FinalURL)
	require.Equal(t, HashURL(server.URL+"/old"), strings.TrimSuffix(filepath.Base(source.Metadata.LocalTextPath), ".txt"))
}

func TestFetch_ExtractsLinksOnlyWhenFollowing(t *testing.T) {
	page := `<html><body><a href="/a">A</a><a href="/b#x">B</a><a href="/c">C</a><a href="mailto:x@y.z">M</a></body></html>`
	server := newCountingServer(t, htmlHandler(page))

	following, _ := newTestSession(t, Options{}, Limits{MaxSources: 3, MaxLinksPerSource: 2, FollowLinks: true})
	source, err := following.Fetch(context.Background(), server.URL+"/index")
	require.NoError(t, err)
	require.Equal(t, []string{server.URL + "/a", server.URL + "/b"}, source.Metadata.Links)

	single, _ := newTestSession(t, Options{}, Limits{MaxSources: 1, MaxLinksPerSource: 2, FollowLinks: true})
	source, err = single.Fetch(context.Background(), server.URL+"/index")
	require.NoError(t, err)
	require.Empty(t, source.Metadata.Links)

	notFollowing, _ := newTestSession(t, Options{}, Limits{MaxSources: 3, MaxLinksPerSource: 2})
	source, err = notFollowing.Fetch(context.Background(), server.URL+"/index")
	require.NoError(t, err)
	require.Empty(t, source.Metadata.Links)
}

func TestFetch_UnreadableMetadataRefetches(t *testing.T) {
	server := newCountingServer(t, htmlHandler(simplePage))
	session, files := newTestSession(t, Options{}, Limits{MaxSources: 1})

	_, err := session.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	require.NoError(t, files.WriteFile("run-1", MetadataPath(HashURL(server.URL)), []byte("{broken")))

	source, err := session.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	require.False(t, source.CacheHit)
	require.Equal(t, int64(2), server.hits.Load())
}

func TestFetch_MissingBodyIsNotACacheHit(t *testing.T) {
	server := newCountingServer(t, htmlHandler(simplePage))
	session, files := newTestSession(t, Options{}, Limits{MaxSources: 1})
	hash := HashURL(server.URL)
	require.NoError(t, files.WriteFile("run-1", MetadataPath(hash), []byte(`{"url":"stale"}`)))

	source, err := session.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	require.False(t, source.CacheHit)
	require.Equal(t, server.URL, source.Metadata.URL)
	require.Equal(t, int64(1), server.hits.Load())
}

func TestFetch_ConcurrentDuplicatesCollapse(t *testing.T) {
	server := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		htmlHandler(simplePage)(w, r)
	})
	session, _ := newTestSession(t, Options{}, Limits{MaxSources: 1})

	var wg sync.WaitGroup
	results := make([][]byte, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			source, err := session.Fetch(context.Background(), server.URL)
			errs[i] = err
			if err == nil {
				results[i] = source.Raw
			}
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		require.Equal(t, results[0], results[i])
	}
	require.Equal(t, int64(1), server.hits.Load())
	require.Equal(t, 1, session.SeenCount())
}

func TestFetch_ConcurrentNewURLsRespectBudget(t *testing.T) {
	server := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(10 * time.Millisecond)
		htmlHandler(simplePage)(w, r)
	})
	session, _ := newTestSession(t, Options{}, Limits{MaxSources: 2})

	var wg sync.WaitGroup
	var budgetErrors atomic.Int64
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := session.Fetch(context.Background(), server.URL+"/p"+strings.Repeat("x", i))
			if errors.Is(err, ErrSourceBudgetExceeded) {
				budgetErrors.Add(1)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 2, session.SeenCount())
	require.Equal(t, int64(4), budgetErrors.Load())
	require.Equal(t, int64(2), server.hits.Load())
}

func TestFetch_ObserverSeesSuccessfulFetches(t *testing.T) {
	server := newCountingServer(t, htmlHandler(simplePage))
	files, err := artifacts.New(filepath.Join(t.TempDir(), "runs"))
	require.NoError(t, err)
	fetcher := NewFetcher(files, Options{Logger: logging.NewForTest()})

	var observed []Source
	session, err := fetcher.Session("run-1", Limits{MaxSources: 1}, WithObserver(func(source Source) {
		observed = append(observed, source)
	}))
	require.NoError(t, err)

	_, err = session.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	_, err = session.Fetch(context.Background(), server.URL+"/other")
	require.Error(t, err)
	_, err = session.Fetch(context.Background(), server.URL)
	require.NoError(t, err)

	require.Len(t, observed, 2)
	require.False(t, observed[0].CacheHit)
	require.True(t, observed[1].CacheHit)
}

func TestSession_InvalidRunID(t *testing.T) {
	files, err := artifacts.New(filepath.Join(t.TempDir(), "runs"))
	require.NoError(t, err)
	_, err = NewFetcher(files, Options{}).Session("../x", Limits{})
	require.ErrorIs(t, err, artifacts.ErrInvalidIdentifier)
}
