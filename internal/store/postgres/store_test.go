package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/internal/crawl"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func jobRowColumns() []string {
	return []string{
		"id", "url", "status", "extract_rules", "data",
		"error", "created_at", "started_at", "finished_at",
	}
}

func TestStore_CreateJob(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	rules := []crawl.ExtractionRule{
		{Name: "title", Selector: "h1", SelectorType: crawl.SelectorCSS, Type: crawl.ExtractText},
	}
	rulesJSON, err := json.Marshal(rules)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO crawl_jobs").
		WithArgs("job-1", "https://example.com", "PENDING", rulesJSON, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.CreateJob(context.Background(), crawl.CrawlJob{
		ID:           "job-1",
		URL:          "https://example.com",
		Status:       crawl.JobStatusPending,
		ExtractRules: rules,
		CreatedAt:    now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetJob(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	started := now.Add(time.Second)

	var data crawl.ScrapedData
	data.Append("title", crawl.ScalarValue("Example"))
	dataJSON, err := json.Marshal(data)
	require.NoError(t, err)

	rows := pgxmock.NewRows(jobRowColumns()).AddRow(
		"job-1", "https://example.com", "COMPLETED", []byte(`[]`), dataJSON,
		(*string)(nil), now, &started, &started,
	)
	mock.ExpectQuery("SELECT (.+) FROM crawl_jobs WHERE id").
		WithArgs("job-1").
		WillReturnRows(rows)

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, crawl.JobStatusCompleted, job.Status)
	require.NotNil(t, job.Data)
	v, ok := job.Data.Get("title")
	require.True(t, ok)
	require.Equal(t, crawl.ScalarValue("Example"), v)
	require.NotNil(t, job.StartedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetJob_NotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM crawl_jobs WHERE id").
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetJob(context.Background(), "ghost")
	require.ErrorIs(t, err, crawl.ErrJobNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateJob_BuildsPartialSet(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	status := crawl.JobStatusRunning

	rows := pgxmock.NewRows(jobRowColumns()).AddRow(
		"job-1", "https://example.com", "RUNNING", []byte(`[]`), []byte(nil),
		(*string)(nil), now, &now, (*time.Time)(nil),
	)
	mock.ExpectQuery(`UPDATE crawl_jobs SET status = \$1, started_at = \$2 WHERE id = \$3 RETURNING`).
		WithArgs("RUNNING", now, "job-1").
		WillReturnRows(rows)

	job, err := store.UpdateJob(context.Background(), "job-1", crawl.JobUpdate{
		Status:    &status,
		StartedAt: &now,
	})
	require.NoError(t, err)
	require.Equal(t, crawl.JobStatusRunning, job.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateJob_NotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	status := crawl.JobStatusFailed
	errText := "boom"
	mock.ExpectQuery("UPDATE crawl_jobs SET").
		WithArgs("FAILED", "boom", "job-x").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.UpdateJob(context.Background(), "job-x", crawl.JobUpdate{
		Status: &status,
		Error:  &errText,
	})
	require.ErrorIs(t, err, crawl.ErrJobNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListJobs(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	rows := pgxmock.NewRows(jobRowColumns()).
		AddRow("job-2", "https://example.com/b", "PENDING", []byte(`[]`), []byte(nil),
			(*string)(nil), now.Add(time.Minute), (*time.Time)(nil), (*time.Time)(nil)).
		AddRow("job-1", "https://example.com/a", "COMPLETED", []byte(`[]`), []byte(nil),
			(*string)(nil), now, (*time.Time)(nil), (*time.Time)(nil))
	mock.ExpectQuery("SELECT (.+) FROM crawl_jobs ORDER BY created_at DESC LIMIT").
		WithArgs(50).
		WillReturnRows(rows)

	jobs, err := store.ListJobs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "job-2", jobs[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_DeleteJob(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM crawl_jobs WHERE id").
		WithArgs("job-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, store.DeleteJob(context.Background(), "job-1"))

	mock.ExpectExec("DELETE FROM crawl_jobs WHERE id").
		WithArgs("ghost").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	require.ErrorIs(t, store.DeleteJob(context.Background(), "ghost"), crawl.ErrJobNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_DeleteJobs(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	ids := []string{"a", "b", "ghost"}
	mock.ExpectExec("DELETE FROM crawl_jobs WHERE id = ANY").
		WithArgs(ids).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	deleted, err := store.DeleteJobs(context.Background(), ids)
	require.NoError(t, err)
	require.Equal(t, int64(2), deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_DomainRules(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT domain, allowed, crawl_delay_ms, user_agent FROM domain_rules").
		WithArgs("example.com").
		WillReturnError(pgx.ErrNoRows)
	_, ok, err := store.GetDomainRule(context.Background(), "Example.com")
	require.NoError(t, err)
	require.False(t, ok)

	mock.ExpectExec("INSERT INTO domain_rules").
		WithArgs("example.com", true, int64(5000), (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.UpsertDomainRule(context.Background(), crawl.DomainRule{
		Domain:     "Example.com",
		Allowed:    true,
		CrawlDelay: 5 * time.Second,
	}))

	agent := "quarry-bot/1.0"
	rows := pgxmock.NewRows([]string{"domain", "allowed", "crawl_delay_ms", "user_agent"}).
		AddRow("example.com", false, int64(30000), &agent)
	mock.ExpectQuery("SELECT domain, allowed, crawl_delay_ms, user_agent FROM domain_rules").
		WithArgs("example.com").
		WillReturnRows(rows)

	rule, ok, err := store.GetDomainRule(context.Background(), "example.com")
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, rule.Allowed)
	require.Equal(t, 30*time.Second, rule.CrawlDelay)
	require.Equal(t, "quarry-bot/1.0", rule.UserAgent)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_EnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS crawl_jobs").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
