package httptransport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"straintype/internal/mlst"
	"straintype/internal/typingdb"
	"straintype/pkg/testutil"
)

// stubService scripts the service layer so handler tests only exercise
// parsing, routing, and error translation.
type stubService struct {
	schema       typingdb.Schema
	schemaErr    error
	result       mlst.TypingResult
	resolveErr   error
	refreshCalls int
	lastSample   mlst.Sample
	batchItems   []mlst.BatchItem
}

func (s *stubService) ListDatabases() []typingdb.Database {
	return []typingdb.Database{{ID: "pubmlst", Name: "PubMLST", BaseURL: "https://rest.pubmlst.org", Provider: "bigsdb"}}
}

func (s *stubService) ListSchemas(context.Context, string) ([]typingdb.SchemaRef, error) {
	return []typingdb.SchemaRef{s.schema.Ref}, nil
}

func (s *stubService) Schema(context.Context, string, string, int) (typingdb.Schema, error) {
	if s.schemaErr != nil {
		return typingdb.Schema{}, s.schemaErr
	}
	return s.schema, nil
}

func (s *stubService) ResolveSample(_ context.Context, _ typingdb.Schema, sample mlst.Sample) (mlst.TypingResult, error) {
	s.lastSample = sample
	if s.resolveErr != nil {
		return mlst.TypingResult{}, s.resolveErr
	}
	return s.result, nil
}

func (s *stubService) ResolveBatch(context.Context, typingdb.Schema, []mlst.Sample) ([]mlst.BatchItem, error) {
	return s.batchItems, nil
}

func (s *stubService) Refresh(context.Context, typingdb.Schema) error {
	s.refreshCalls++
	return nil
}

func (s *stubService) RefreshSchemas(context.Context, string) error {
	s.refreshCalls++
	return nil
}

func newStubService(t *testing.T) *stubService {
	t.Helper()
	schema, err := typingdb.NewSchema(typingdb.SchemaRef{
		DatabaseID: "pubmlst", SeqDefDB: "nm_seqdef", SchemeID: 1, Description: "MLST",
	}, []string{"abcZ", "adk"})
	require.NoError(t, err)
	return &stubService{
		schema: schema,
		result: mlst.TypingResult{Classification: mlst.ClassResolved, SequenceType: "11"},
	}
}

func newTestRouter(t *testing.T) (*stubService, http.Handler) {
	t.Helper()
	svc := newStubService(t)
	return svc, NewRouter(NewHandler(svc, nil))
}

func TestHealthz(t *testing.T) {
	_, router := newTestRouter(t)

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/healthz"))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestListDatabases(t *testing.T) {
	_, router := newTestRouter(t)

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/databases"))
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Databases []typingdb.Database `json:"databases"`
	}
	testutil.DecodeJSON(t, rr, &body)
	require.Len(t, body.Databases, 1)
	assert.Equal(t, "pubmlst", body.Databases[0].ID)
}

func TestGetSchema(t *testing.T) {
	_, router := newTestRouter(t)

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/databases/pubmlst/schemas/nm_seqdef/1"))
	require.Equal(t, http.StatusOK, rr.Code)

	var schema typingdb.Schema
	testutil.DecodeJSON(t, rr, &schema)
	assert.Equal(t, []string{"abcZ", "adk"}, schema.Loci)
}

func TestGetSchema_NonNumericSchemeID(t *testing.T) {
	_, router := newTestRouter(t)

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/databases/pubmlst/schemas/nm_seqdef/mlst"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	var body map[string]string
	testutil.DecodeJSON(t, rr, &body)
	assert.Equal(t, "invalid_input", body["error"])
}

func TestResolve_WithSequenceMap(t *testing.T) {
	svc, router := newTestRouter(t)

	req := testutil.NewJSONRequest(t, http.MethodPost, "/databases/pubmlst/schemas/nm_seqdef/1/resolve",
		map[string]any{"id": "iso-1", "sequences": map[string]string{"abcZ": "ACGT", "adk": "TTTT"}})
	rr := testutil.DoRequest(router, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var result mlst.TypingResult
	testutil.DecodeJSON(t, rr, &result)
	assert.Equal(t, mlst.ClassResolved, result.Classification)
	assert.Equal(t, "11", result.SequenceType)
	assert.Equal(t, "iso-1", svc.lastSample.ID)
}

func TestResolve_WithFASTABody(t *testing.T) {
	svc, router := newTestRouter(t)

	req := testutil.NewJSONRequest(t, http.MethodPost, "/databases/pubmlst/schemas/nm_seqdef/1/resolve",
		map[string]any{"id": "iso-2", "fasta": ">abcZ\nACGT\n>adk\nTT\nTT\n"})
	rr := testutil.DoRequest(router, req)
	require.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, map[string]string{"abcZ": "ACGT", "adk": "TTTT"}, svc.lastSample.Sequences)
}

func TestResolve_RejectsBothSequenceForms(t *testing.T) {
	_, router := newTestRouter(t)

	req := testutil.NewJSONRequest(t, http.MethodPost, "/databases/pubmlst/schemas/nm_seqdef/1/resolve",
		map[string]any{"id": "iso-3", "sequences": map[string]string{"abcZ": "ACGT"}, "fasta": ">adk\nTT\n"})
	rr := testutil.DoRequest(router, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	var body map[string]string
	testutil.DecodeJSON(t, rr, &body)
	assert.Equal(t, "invalid_input", body["error"])
	assert.Contains(t, body["error_description"], "not both")
}

func TestResolve_RejectsDuplicateFASTALocus(t *testing.T) {
	_, router := newTestRouter(t)

	req := testutil.NewJSONRequest(t, http.MethodPost, "/databases/pubmlst/schemas/nm_seqdef/1/resolve",
		map[string]any{"id": "iso-4", "fasta": ">abcZ\nACGT\n>abcZ\nTTTT\n"})
	rr := testutil.DoRequest(router, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestResolve_RejectsEmptyBody(t *testing.T) {
	_, router := newTestRouter(t)

	req := testutil.NewJSONRequest(t, http.MethodPost, "/databases/pubmlst/schemas/nm_seqdef/1/resolve",
		map[string]any{"id": "iso-5"})
	rr := testutil.DoRequest(router, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestResolve_RefreshQueryTriggersInvalidation(t *testing.T) {
	svc, router := newTestRouter(t)

	req := testutil.NewJSONRequest(t, http.MethodPost, "/databases/pubmlst/schemas/nm_seqdef/1/resolve?refresh=1",
		map[string]any{"id": "iso-6", "sequences": map[string]string{"abcZ": "ACGT"}})
	rr := testutil.DoRequest(router, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, svc.refreshCalls)
}

func TestResolveBatch(t *testing.T) {
	svc, router := newTestRouter(t)
	svc.batchItems = []mlst.BatchItem{
		{SampleID: "a", Result: &mlst.TypingResult{Classification: mlst.ClassResolved, SequenceType: "11"}},
		{SampleID: "b", Error: "invalid input: empty sequence for locus abcZ"},
	}

	req := testutil.NewJSONRequest(t, http.MethodPost, "/databases/pubmlst/schemas/nm_seqdef/1/resolve-batch",
		map[string]any{"samples": []map[string]any{
			{"id": "a", "sequences": map[string]string{"abcZ": "ACGT"}},
			{"id": "b", "sequences": map[string]string{"abcZ": "TTTT"}},
		}})
	rr := testutil.DoRequest(router, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Results []mlst.BatchItem `json:"results"`
	}
	testutil.DecodeJSON(t, rr, &body)
	require.Len(t, body.Results, 2)
	assert.Equal(t, "11", body.Results[0].Result.SequenceType)
	assert.NotEmpty(t, body.Results[1].Error)
}

func TestResolveBatch_RejectsEmptySampleList(t *testing.T) {
	_, router := newTestRouter(t)

	req := testutil.NewJSONRequest(t, http.MethodPost, "/databases/pubmlst/schemas/nm_seqdef/1/resolve-batch",
		map[string]any{"samples": []map[string]any{}})
	rr := testutil.DoRequest(router, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestWriteError_StatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid input", fmt.Errorf("%w: bad", mlst.ErrInvalidInput), http.StatusBadRequest, "invalid_input"},
		{"not found", typingdb.NewFetchError(typingdb.CategoryNotFound, "pubmlst", "schema", errors.New("404")), http.StatusNotFound, "not_found"},
		{"unavailable", typingdb.NewFetchError(typingdb.CategoryUnavailable, "pubmlst", "schema", errors.New("503")), http.StatusServiceUnavailable, "unavailable"},
		{"internal", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, router := newTestRouter(t)
			svc.schemaErr = tc.err

			rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/databases/pubmlst/schemas/nm_seqdef/1"))
			assert.Equal(t, tc.status, rr.Code)

			var body map[string]string
			testutil.DecodeJSON(t, rr, &body)
			assert.Equal(t, tc.code, body["error"])
			if tc.status == http.StatusInternalServerError {
				assert.NotContains(t, body, "error_description", "internal details stay in the log")
			}
		})
	}
}
