package services

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"patent-sync/models"
	"patent-sync/providers"
	"patent-sync/storage"
)

type fakeProvider struct {
	mu       sync.Mutex
	listings map[string][]*models.Patent
	errs     map[string]error
	panics   map[string]bool
	block    map[string]chan struct{}
	started  chan string
	onScrape func(profileURL string)
	calls    []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		listings: map[string][]*models.Patent{},
		errs:     map[string]error{},
		panics:   map[string]bool{},
		block:    map[string]chan struct{}{},
	}
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Scrape(ctx context.Context, profileURL string) (*providers.Listing, error) {
	f.mu.Lock()
	f.calls = append(f.calls, profileURL)
	listing, err, panics, wait := f.listings[profileURL], f.errs[profileURL], f.panics[profileURL], f.block[profileURL]
	started, onScrape := f.started, f.onScrape
	f.mu.Unlock()

	if onScrape != nil {
		onScrape(profileURL)
	}
	if ctx.Err() != nil {
		return nil, &providers.FetchError{URL: profileURL, Err: ctx.Err()}
	}

	if started != nil {
		started <- profileURL
	}
	if wait != nil {
		<-wait
	}
	if panics {
		panic("selector exploded")
	}
	if err != nil {
		return nil, err
	}
	if !strings.Contains(profileURL, "user=") {
		return nil, providers.ErrInvalidProfileURL
	}
	return &providers.Listing{ProfileID: "x", HTML: "<html></html>", Patents: listing}, nil
}

type fakePatentStore struct {
	mu       sync.Mutex
	byUser   map[uint][]models.Patent
	nextID   uint
	err      error
	replaces int
}

func newFakePatentStore() *fakePatentStore {
	return &fakePatentStore{byUser: map[uint][]models.Patent{}, nextID: 1}
}

func (f *fakePatentStore) seed(userID uint, titles ...string) {
	var in []*models.Patent
	for _, t := range titles {
		in = append(in, &models.Patent{Title: t})
	}
	f.insert(userID, in)
}

func (f *fakePatentStore) insert(userID uint, patents []*models.Patent) {
	f.byUser[userID] = nil
	for _, p := range patents {
		cp := *p
		cp.ID = f.nextID
		cp.UserID = userID
		f.nextID++
		f.byUser[userID] = append(f.byUser[userID], cp)
	}
}

func (f *fakePatentStore) ListForUser(ctx context.Context, userID uint) ([]models.Patent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Patent(nil), f.byUser[userID]...), nil
}

func (f *fakePatentStore) ReplaceForUser(ctx context.Context, userID uint, patents []*models.Patent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.replaces++
	f.insert(userID, patents)
	return nil
}

type fakeProfileStore struct {
	profiles []models.ScholarProfile
	err      error
}

func (f *fakeProfileStore) add(userID uint, url string) {
	u := url
	f.profiles = append(f.profiles, models.ScholarProfile{UserID: userID, GoogleScholarProfileURL: &u, PatentsToDisplayCount: 5})
}

func (f *fakeProfileStore) Get(ctx context.Context, userID uint) (*models.ScholarProfile, error) {
	for i := range f.profiles {
		if f.profiles[i].UserID == userID {
			p := f.profiles[i]
			return &p, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeProfileStore) GetScholarProfileURL(ctx context.Context, userID uint) (string, error) {
	p, err := f.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	if p.GoogleScholarProfileURL == nil {
		return "", nil
	}
	return *p.GoogleScholarProfileURL, nil
}

func (f *fakeProfileStore) ListEligible(ctx context.Context) ([]models.ScholarProfile, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.ScholarProfile
	for _, p := range f.profiles {
		if p.GoogleScholarProfileURL != nil && *p.GoogleScholarProfileURL != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeProfileStore) Upsert(ctx context.Context, profile *models.ScholarProfile) error {
	f.profiles = append(f.profiles, *profile)
	return nil
}

type fakeRunStore struct {
	runs     []models.ScrapeRun
	finished map[uint]map[string]interface{}
}

func (f *fakeRunStore) Create(ctx context.Context, run *models.ScrapeRun) error {
	run.ID = uint(len(f.runs) + 1)
	f.runs = append(f.runs, *run)
	return nil
}

func (f *fakeRunStore) Finish(ctx context.Context, runID uint, updates map[string]interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.finished == nil {
		f.finished = map[uint]map[string]interface{}{}
	}
	f.finished[runID] = updates
	return nil
}

func (f *fakeRunStore) Recent(ctx context.Context, limit int) ([]models.ScrapeRun, error) {
	return f.runs, nil
}

type fakeSnapshots struct {
	keys     []string
	prefixes []string
	err      error
}

func (f *fakeSnapshots) PutSnapshot(ctx context.Context, key string, body []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.keys = append(f.keys, key)
	return "s3://bucket/" + key, nil
}

func (f *fakeSnapshots) Rotate(ctx context.Context, prefix string) (int, error) {
	f.prefixes = append(f.prefixes, prefix)
	return 0, nil
}

const (
	urlUser1 = "https://scholar.google.com/citations?user=one&hl=en"
	urlUser2 = "https://scholar.google.com/citations?user=two&hl=en"
	urlUser3 = "https://scholar.google.com/citations?user=three&hl=en"
)

func scraped(titles ...string) []*models.Patent {
	out := make([]*models.Patent, len(titles))
	for i, t := range titles {
		year := "2020"
		out[i] = &models.Patent{Title: t, Authors: "J Doe", PublicationDate: &year, Citations: i}
	}
	return out
}

func storedTitles(t *testing.T, store *fakePatentStore, userID uint) []string {
	t.Helper()
	patents, err := store.ListForUser(context.Background(), userID)
	require.NoError(t, err)
	out := make([]string, len(patents))
	for i, p := range patents {
		out[i] = p.Title
	}
	return out
}

func newTestService() (*PatentService, *fakeProvider, *fakePatentStore, *fakeProfileStore) {
	provider := newFakeProvider()
	patents := newFakePatentStore()
	profiles := &fakeProfileStore{}
	return NewPatentService(provider, patents, profiles, zap.NewNop()), provider, patents, profiles
}

func TestRefreshEmptyResultPreservesStoredPatents(t *testing.T) {
	svc, provider, patents, profiles := newTestService()
	profiles.add(1, urlUser1)
	patents.seed(1, "A", "B", "C", "D", "E")
	provider.listings[urlUser1] = nil

	res, err := svc.RefreshPatents(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, StatusNoPatentsFound, res.Status)
	assert.Equal(t, 0, res.Count)

	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, storedTitles(t, patents, 1))
	assert.Equal(t, 0, patents.replaces)
}

func TestRefreshIsFullReplace(t *testing.T) {
	svc, provider, patents, profiles := newTestService()
	profiles.add(1, urlUser1)
	patents.seed(1, "A", "B", "C")
	oldIDs := map[uint]bool{}
	for _, p := range patents.byUser[1] {
		oldIDs[p.ID] = true
	}
	provider.listings[urlUser1] = scraped("B", "D")

	res, err := svc.RefreshPatents(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, StatusUpdated, res.Status)
	assert.Equal(t, 2, res.Count)

	assert.Equal(t, []string{"B", "D"}, storedTitles(t, patents, 1))
	for _, p := range patents.byUser[1] {
		assert.False(t, oldIDs[p.ID], "patent %q kept its old identity", p.Title)
		assert.Equal(t, uint(1), p.UserID)
	}
}

func TestRefreshTwiceYieldsSameContents(t *testing.T) {
	svc, provider, patents, profiles := newTestService()
	profiles.add(1, urlUser1)
	provider.listings[urlUser1] = scraped("A", "B")

	_, err := svc.RefreshPatents(context.Background(), 1)
	require.NoError(t, err)
	first, _ := patents.ListForUser(context.Background(), 1)

	_, err = svc.RefreshPatents(context.Background(), 1)
	require.NoError(t, err)
	second, _ := patents.ListForUser(context.Background(), 1)

	require.Len(t, second, len(first))
	for i := range first {
		a, b := first[i], second[i]
		assert.NotEqual(t, a.ID, b.ID)
		a.ID, b.ID = 0, 0
		assert.Equal(t, a, b)
	}
	// Die Eingabe des Providers bleibt unverändert.
	assert.Zero(t, provider.listings[urlUser1][0].ID)
	assert.Zero(t, provider.listings[urlUser1][0].UserID)
}

func TestRefreshFailuresLeaveStorageUntouched(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind Kind
	}{
		{name: "http status", err: &providers.FetchError{URL: "u", StatusCode: http.StatusServiceUnavailable}, kind: KindFetchFailed},
		{name: "network", err: &providers.FetchError{URL: "u", Err: errors.New("connection refused")}, kind: KindFetchFailed},
		{name: "timeout", err: context.DeadlineExceeded, kind: KindFetchFailed},
		{name: "parse", err: providers.ErrParse, kind: KindParseError},
		{name: "invalid url", err: providers.ErrInvalidProfileURL, kind: KindInvalidProfileURL},
		{name: "other", err: errors.New("boom"), kind: KindScrapeFailed},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			svc, provider, patents, profiles := newTestService()
			profiles.add(1, urlUser1)
			patents.seed(1, "A", "B")
			provider.errs[urlUser1] = c.err

			res, err := svc.RefreshPatents(context.Background(), 1)
			require.Error(t, err)
			assert.Nil(t, res)

			var se *ScrapeError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, c.kind, se.Kind)
			assert.Equal(t, uint(1), se.UserID)
			assert.NotEmpty(t, se.Message())
			assert.Equal(t, []string{"A", "B"}, storedTitles(t, patents, 1))
			assert.Equal(t, 0, patents.replaces)
		})
	}
}

func TestRefreshProfileURLProblems(t *testing.T) {
	svc, provider, _, profiles := newTestService()
	profiles.add(2, "")
	profiles.add(3, "https://scholar.google.com/citations?hl=en")

	_, err := svc.RefreshPatents(context.Background(), 1)
	assert.Equal(t, KindInvalidProfileURL, KindOf(err))
	assert.ErrorIs(t, err, ErrProfileNotFound)

	_, err = svc.RefreshPatents(context.Background(), 2)
	assert.Equal(t, KindInvalidProfileURL, KindOf(err))
	assert.ErrorIs(t, err, ErrNoProfileURL)

	_, err = svc.RefreshPatents(context.Background(), 3)
	assert.Equal(t, KindInvalidProfileURL, KindOf(err))
	assert.ErrorIs(t, err, providers.ErrInvalidProfileURL)

	assert.Len(t, provider.calls, 1, "only user 3 reaches the provider")
}

func TestRefreshStorageError(t *testing.T) {
	svc, provider, patents, profiles := newTestService()
	profiles.add(1, urlUser1)
	provider.listings[urlUser1] = scraped("A")
	patents.err = errors.New("database is gone")

	_, err := svc.RefreshPatents(context.Background(), 1)
	assert.Equal(t, KindStorage, KindOf(err))
}

func TestRefreshArchivesSnapshot(t *testing.T) {
	svc, provider, _, profiles := newTestService()
	snaps := &fakeSnapshots{}
	svc.Snapshots = snaps
	profiles.add(1, urlUser1)
	provider.listings[urlUser1] = scraped("A")

	_, err := svc.RefreshPatents(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, snaps.keys, 1)
	assert.True(t, strings.HasPrefix(snaps.keys[0], "scholar/1/"))
	assert.True(t, strings.HasSuffix(snaps.keys[0], ".html"))
	assert.Equal(t, []string{"scholar/1/"}, snaps.prefixes)

	// Ein fehlgeschlagener Upload verhindert den Abgleich nicht.
	snaps.err = errors.New("bucket offline")
	res, err := svc.RefreshPatents(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, StatusUpdated, res.Status)
}

func TestRefreshAllEligibleUsersIsolatesFailures(t *testing.T) {
	for _, workers := range []int{1, 3} {
		svc, provider, patents, profiles := newTestService()
		runs := &fakeRunStore{}
		svc.Runs = NewRunService(runs)
		svc.Workers = workers

		profiles.add(1, urlUser1)
		profiles.add(2, urlUser2)
		profiles.add(3, urlUser3)
		profiles.add(4, "")
		provider.listings[urlUser1] = scraped("A", "B")
		provider.errs[urlUser2] = &providers.FetchError{URL: urlUser2, Err: errors.New("connection reset by peer")}
		provider.listings[urlUser3] = scraped("C")

		results, err := svc.RefreshAllEligibleUsers(context.Background(), "test")
		require.NoError(t, err)
		require.Len(t, results, 3, "workers=%d", workers)

		assert.Equal(t, uint(1), results[0].UserID)
		assert.True(t, results[0].Success)
		require.NotNil(t, results[0].Count)
		assert.Equal(t, 2, *results[0].Count)

		assert.Equal(t, uint(2), results[1].UserID)
		assert.False(t, results[1].Success)
		assert.Equal(t, KindFetchFailed, results[1].ErrorKind)
		assert.NotEmpty(t, results[1].Error)
		assert.Nil(t, results[1].Count)

		assert.Equal(t, uint(3), results[2].UserID)
		assert.True(t, results[2].Success)

		assert.Equal(t, []string{"A", "B"}, storedTitles(t, patents, 1))
		assert.Equal(t, []string{"C"}, storedTitles(t, patents, 3))

		require.Len(t, runs.runs, 1)
		finished := runs.finished[1]
		assert.Equal(t, models.ScrapeRunStatusSuccess, finished["status"])
		assert.Equal(t, 3, finished["users_processed"])
		assert.Equal(t, 1, finished["users_failed"])
		assert.Equal(t, 3, finished["patents_stored"])
	}
}

func TestRefreshAllCountsNoPatentsAsSuccess(t *testing.T) {
	svc, provider, patents, profiles := newTestService()
	profiles.add(1, urlUser1)
	patents.seed(1, "Old")
	provider.listings[urlUser1] = nil

	results, err := svc.RefreshAllEligibleUsers(context.Background(), "test")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, StatusNoPatentsFound, results[0].Status)
	require.NotNil(t, results[0].Count)
	assert.Equal(t, 0, *results[0].Count)
	assert.Equal(t, []string{"Old"}, storedTitles(t, patents, 1))

	sum := Summarize(results)
	assert.Equal(t, 1, sum.UsersWithoutPatents)
	assert.Equal(t, 1, sum.UsersSucceeded)
}

func TestRefreshAllRecoversFromPanics(t *testing.T) {
	svc, provider, _, profiles := newTestService()
	profiles.add(1, urlUser1)
	profiles.add(2, urlUser2)
	provider.listings[urlUser1] = scraped("A")
	provider.panics[urlUser2] = true

	results, err := svc.RefreshAllEligibleUsers(context.Background(), "test")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Equal(t, KindScrapeFailed, results[1].ErrorKind)
}

func TestRefreshAllRejectsConcurrentBatch(t *testing.T) {
	svc, provider, _, profiles := newTestService()
	profiles.add(1, urlUser1)
	provider.listings[urlUser1] = scraped("A")
	release := make(chan struct{})
	provider.block[urlUser1] = release
	provider.started = make(chan string, 1)

	done := make(chan error, 1)
	go func() {
		_, err := svc.RefreshAllEligibleUsers(context.Background(), "first")
		done <- err
	}()
	<-provider.started

	_, err := svc.RefreshAllEligibleUsers(context.Background(), "second")
	assert.ErrorIs(t, err, ErrRefreshAlreadyRunning)

	close(release)
	require.NoError(t, <-done)
}

func TestRefreshAllProfileLoadFailureMarksRun(t *testing.T) {
	svc, _, _, profiles := newTestService()
	runs := &fakeRunStore{}
	svc.Runs = NewRunService(runs)
	profiles.err = errors.New("db down")

	_, err := svc.RefreshAllEligibleUsers(context.Background(), "cron")
	require.Error(t, err)
	assert.Equal(t, models.ScrapeRunStatusFailed, runs.finished[1]["status"])
	assert.Equal(t, "db down", runs.finished[1]["error_message"])
}

func TestRunServiceTruncatesErrorMessage(t *testing.T) {
	runs := &fakeRunStore{}
	svc := NewRunService(runs)
	run, err := svc.Start(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "unknown", run.TriggerSource)

	require.NoError(t, svc.MarkFailure(context.Background(), run.ID, &BatchSummary{UsersProcessed: 2}, errors.New(strings.Repeat("x", 1500))))
	msg := runs.finished[run.ID]["error_message"].(string)
	assert.Len(t, msg, 1000)
	assert.True(t, strings.HasSuffix(msg, "..."))
	assert.Equal(t, 2, runs.finished[run.ID]["users_processed"])
}

func TestPatentSectionMarkdownUsesDisplayCount(t *testing.T) {
	svc, _, patents, profiles := newTestService()
	profiles.add(1, urlUser1)
	profiles.profiles[0].PatentsToDisplayCount = 1
	patents.insert(1, []*models.Patent{{Title: "Low", Citations: 1}, {Title: "High", Citations: 9}})

	md, err := svc.PatentSectionMarkdown(context.Background(), 1)
	require.NoError(t, err)
	assert.Contains(t, md, "High")
	assert.NotContains(t, md, "Low")

	// Ohne Profil gilt die Standardanzahl.
	md, err = svc.PatentSectionMarkdown(context.Background(), 42)
	require.NoError(t, err)
	assert.Contains(t, md, "No patents listed.")
}

func TestRefreshAllFinishesRunWhenContextIsCancelled(t *testing.T) {
	svc, provider, _, profiles := newTestService()
	runs := &fakeRunStore{}
	svc.Runs = NewRunService(runs)
	profiles.add(1, urlUser1)
	profiles.add(2, urlUser2)
	provider.listings[urlUser1] = scraped("A")
	provider.listings[urlUser2] = scraped("B")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	provider.onScrape = func(profileURL string) {
		if profileURL == urlUser1 {
			cancel()
		}
	}

	results, err := svc.RefreshAllEligibleUsers(ctx, "api")
	require.NoError(t, err)
	require.Len(t, results, 2)

	finished := runs.finished[1]
	require.NotNil(t, finished, "run must not stay in running")
	assert.Equal(t, models.ScrapeRunStatusSuccess, finished["status"])
	assert.Equal(t, 2, finished["users_processed"])
	assert.NotNil(t, finished["finished_at"])
}

func TestReconcileOnlyNilRecordsKeepsStoredPatents(t *testing.T) {
	svc, _, patents, _ := newTestService()
	patents.seed(1, "A", "B", "C", "D", "E")

	res, err := svc.Reconcile(context.Background(), 1, []*models.Patent{nil, nil})
	require.NoError(t, err)
	assert.Equal(t, StatusNoPatentsFound, res.Status)
	assert.Equal(t, 0, res.Count)
	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, storedTitles(t, patents, 1))
	assert.Equal(t, 0, patents.replaces)
}

func TestRunServiceTruncatesOnRuneBoundary(t *testing.T) {
	runs := &fakeRunStore{}
	svc := NewRunService(runs)
	run, err := svc.Start(context.Background(), "cli")
	require.NoError(t, err)

	msg := "xx" + strings.Repeat("ü", 749)
	require.Len(t, msg, 1500)
	require.NoError(t, svc.MarkFailure(context.Background(), run.ID, nil, errors.New(msg)))

	stored := runs.finished[run.ID]["error_message"].(string)
	assert.True(t, utf8.ValidString(stored))
	assert.LessOrEqual(t, len(stored), 1000)
	assert.True(t, strings.HasSuffix(stored, "ü..."))
}
