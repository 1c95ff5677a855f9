package s3blob

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/arbiter/internal/domain"
)

type memTrailStore struct {
	trails  map[string]domain.ConsensusResult
	created map[string]time.Time
	deleted []string
}

func (m *memTrailStore) Record(ctx context.Context, requestID string, r domain.ConsensusResult) error {
	m.trails[requestID] = r
	return nil
}

func (m *memTrailStore) GetByRequest(ctx context.Context, requestID string) (domain.ConsensusResult, error) {
	r, ok := m.trails[requestID]
	if !ok {
		return domain.ConsensusResult{}, domain.ErrNotFound
	}
	return r, nil
}

func (m *memTrailStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	var ids []string
	for id, at := range m.created {
		if at.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *memTrailStore) DeleteByRequest(ctx context.Context, requestIDs []string) error {
	for _, id := range requestIDs {
		delete(m.trails, id)
		delete(m.created, id)
		m.deleted = append(m.deleted, id)
	}
	return nil
}

type memWriter struct {
	objects map[string][]byte
}

func (w *memWriter) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects[path] = buf
	return nil
}

func (w *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	return w.Put(ctx, path, data, "")
}

func TestArchiveAuditTrails(t *testing.T) {
	now := time.Now().UTC()
	trails := &memTrailStore{
		trails:  map[string]domain.ConsensusResult{},
		created: map[string]time.Time{},
	}
	trails.trails["old-1"] = domain.ConsensusResult{MarketID: 1, Outcome: domain.OutcomeYes, Confidence: 90}
	trails.created["old-1"] = now.Add(-100 * 24 * time.Hour)
	trails.trails["old-2"] = domain.ConsensusResult{MarketID: 2, Outcome: domain.OutcomeNo, Confidence: 70}
	trails.created["old-2"] = now.Add(-95 * 24 * time.Hour)
	trails.trails["fresh"] = domain.ConsensusResult{MarketID: 3, Outcome: domain.OutcomeYes, Confidence: 88}
	trails.created["fresh"] = now.Add(-time.Hour)

	writer := &memWriter{objects: map[string][]byte{}}
	arch := NewArchiver(writer, trails, nil)

	n, err := arch.ArchiveAuditTrails(context.Background(), now.Add(-90*24*time.Hour))
	if err != nil {
		t.Fatalf("ArchiveAuditTrails: %v", err)
	}
	if n != 2 {
		t.Errorf("archived %d trails, want 2", n)
	}

	if len(writer.objects) != 1 {
		t.Fatalf("uploaded %d objects, want 1", len(writer.objects))
	}
	for path, data := range writer.objects {
		if !strings.HasPrefix(path, "archive/consensus/") {
			t.Errorf("unexpected archive path %q", path)
		}
		if lines := bytes.Count(data, []byte("\n")); lines != 2 {
			t.Errorf("archive has %d lines, want 2", lines)
		}
	}

	// Hot rows removed, fresh one kept.
	if _, ok := trails.trails["old-1"]; ok {
		t.Error("old-1 not deleted from hot store")
	}
	if _, ok := trails.trails["fresh"]; !ok {
		t.Error("fresh trail deleted")
	}
}

func TestArchiveAuditTrailsNothingDue(t *testing.T) {
	trails := &memTrailStore{
		trails:  map[string]domain.ConsensusResult{},
		created: map[string]time.Time{},
	}
	writer := &memWriter{objects: map[string][]byte{}}
	arch := NewArchiver(writer, trails, nil)

	n, err := arch.ArchiveAuditTrails(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ArchiveAuditTrails: %v", err)
	}
	if n != 0 || len(writer.objects) != 0 {
		t.Errorf("archived %d trails, %d uploads; want none", n, len(writer.objects))
	}
}
