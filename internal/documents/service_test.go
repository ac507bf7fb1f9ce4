package documents

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docsync/docsync/internal/models"
)

type fixedQuotas struct {
	q models.Quotas
}

func (f fixedQuotas) Quotas(ctx context.Context, userID string) (models.Quotas, error) {
	return f.q, nil
}

type recordingReleaser struct {
	released []string
}

func (r *recordingReleaser) ReleaseDocumentClaims(ctx context.Context, documentID string) error {
	r.released = append(r.released, documentID)
	return nil
}

func newTestService(maxDocs int64) (*Service, *recordingReleaser) {
	rel := &recordingReleaser{}
	svc := NewService(NewMemoryRepository(), fixedQuotas{models.Quotas{MaxDocuments: maxDocs}}, rel)
	return svc, rel
}

func TestCreate_GeneratesNamespacedID(t *testing.T) {
	svc, _ := newTestService(10)
	doc, err := svc.Create(context.Background(), "alice", "", "text")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(doc.ID, models.DocPrefix))
	require.Equal(t, "alice", doc.OwnerID)
}

func TestCreate_RejectsEphemeralID(t *testing.T) {
	svc, _ := newTestService(10)
	_, err := svc.Create(context.Background(), "alice", "eph:x", "text")
	require.ErrorIs(t, err, ErrEphemeralID)
}

func TestCreate_EnforcesDocumentQuota(t *testing.T) {
	svc, _ := newTestService(2)
	ctx := context.Background()

	_, err := svc.Create(ctx, "alice", "", "")
	require.NoError(t, err)
	_, err = svc.Create(ctx, "alice", "", "")
	require.NoError(t, err)
	_, err = svc.Create(ctx, "alice", "", "")
	require.ErrorIs(t, err, ErrQuotaExceeded)

	// other owners are unaffected
	_, err = svc.Create(ctx, "bob", "", "")
	require.NoError(t, err)
}

func TestDelete_OwnerOnlyAndCascades(t *testing.T) {
	svc, rel := newTestService(10)
	ctx := context.Background()

	doc, err := svc.Create(ctx, "alice", "doc:d1", "")
	require.NoError(t, err)

	require.ErrorIs(t, svc.Delete(ctx, doc.ID, "bob"), ErrForbidden)
	require.NoError(t, svc.Delete(ctx, doc.ID, "alice"))
	require.Equal(t, []string{"doc:d1"}, rel.released)

	require.ErrorIs(t, svc.Delete(ctx, doc.ID, "alice"), ErrNotFound)
}

func TestPutACLEntry_OneEntryPerPrincipal(t *testing.T) {
	svc, _ := newTestService(10)
	ctx := context.Background()

	doc, err := svc.Create(ctx, "alice", "doc:d1", "")
	require.NoError(t, err)

	require.NoError(t, svc.PutACLEntry(ctx, doc.ID, "alice",
		models.ACLEntry{Principal: "bob", Permission: models.PermissionRead}))
	require.NoError(t, svc.PutACLEntry(ctx, doc.ID, "alice",
		models.ACLEntry{Principal: "bob", Permission: models.PermissionWrite}))

	acl, err := svc.repo.GetACL(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, acl, 1)
	require.Equal(t, models.PermissionWrite, acl[0].Permission)
}

func TestPutACLEntry_Validation(t *testing.T) {
	svc, _ := newTestService(10)
	ctx := context.Background()

	doc, err := svc.Create(ctx, "alice", "doc:d1", "")
	require.NoError(t, err)

	err = svc.PutACLEntry(ctx, doc.ID, "alice", models.ACLEntry{Principal: "bob", Permission: "admin"})
	require.Error(t, err)

	err = svc.PutACLEntry(ctx, doc.ID, "bob",
		models.ACLEntry{Principal: "bob", Permission: models.PermissionRead})
	require.ErrorIs(t, err, ErrForbidden)
}

func TestDeleteACLEntry(t *testing.T) {
	svc, _ := newTestService(10)
	ctx := context.Background()

	doc, err := svc.Create(ctx, "alice", "doc:d1", "")
	require.NoError(t, err)
	require.NoError(t, svc.PutACLEntry(ctx, doc.ID, "alice",
		models.ACLEntry{Principal: "bob", Permission: models.PermissionRead}))
	require.NoError(t, svc.DeleteACLEntry(ctx, doc.ID, "alice", "bob"))

	acl, err := svc.repo.GetACL(ctx, doc.ID)
	require.NoError(t, err)
	require.Empty(t, acl)
}
