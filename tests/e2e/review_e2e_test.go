//go:build e2e
// +build e2e

package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	changeModel "github.com/castingclouds/gerrit-sub002/internal/change/model"
	"github.com/castingclouds/gerrit-sub002/internal/changeid"
	submitModel "github.com/castingclouds/gerrit-sub002/internal/submit/model"
)

// TestFullReviewRound pushes a change, amends it, approves and submits it.
func (s *E2ETestSuite) TestFullReviewRound() {
	key := changeid.Generate(changeid.Seed{Message: "e2e full round"})
	commit := s.commit(s.base, key, "add metrics endpoint")
	pushed := s.push(commit, "refs/for/main")
	require.True(s.T(), pushed.Created)
	number := pushed.Change.Number

	amended := s.commit(s.base, key, "add metrics endpoint, with tests")
	pushed = s.push(amended, "refs/for/main")
	assert.False(s.T(), pushed.Created)
	assert.Equal(s.T(), 2, pushed.PatchSet.Number)

	s.review(number, 2, "carol", map[string]int{"Code-Review": 2})
	s.review(number, 2, "vera", map[string]int{"Verified": 1})

	resp, body := s.do(http.MethodPost, fmt.Sprintf("/changes/%d/submit", number),
		submitModel.SubmitRequest{UserID: "alice"})
	require.Equal(s.T(), http.StatusOK, resp.StatusCode, string(body))

	var submitted submitModel.SubmitResponse
	require.NoError(s.T(), json.Unmarshal(body, &submitted))
	assert.Equal(s.T(), "MERGED", submitted.Change.Status)

	tip, err := s.git.Ref(s.ctx, "refs/heads/main")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), submitted.NewTip, tip)
}

// TestBlockingVoteVetoes verifies a blocking vote keeps submit refused even
// with a satisfying approval present.
func (s *E2ETestSuite) TestBlockingVoteVetoes() {
	key := changeid.Generate(changeid.Seed{Message: "e2e veto"})
	commit := s.commit(s.base, key, "risky refactor")
	pushed := s.push(commit, "refs/for/main")
	number := pushed.Change.Number

	s.review(number, 1, "carol", map[string]int{"Code-Review": 2})
	s.review(number, 1, "vera", map[string]int{"Verified": 1})
	s.review(number, 1, "dave", map[string]int{"Code-Review": -2})

	resp, body := s.do(http.MethodPost, fmt.Sprintf("/changes/%d/submit", number),
		submitModel.SubmitRequest{UserID: "alice"})
	assert.Equal(s.T(), http.StatusConflict, resp.StatusCode, string(body))
	assert.Contains(s.T(), string(body), "NOT_READY")
}

// TestVirtualRefsFetchable verifies each patch set lands under refs/changes.
func (s *E2ETestSuite) TestVirtualRefsFetchable() {
	key := changeid.Generate(changeid.Seed{Message: "e2e refs"})
	commit := s.commit(s.base, key, "ref layout check")
	pushed := s.push(commit, "refs/for/main")
	number := pushed.Change.Number

	ref := fmt.Sprintf("refs/changes/%02d/%d/1", number%100, number)
	hash, err := s.git.Ref(s.ctx, ref)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), commit, hash)
}

// TestListFilters exercises the list endpoint against real SQL.
func (s *E2ETestSuite) TestListFilters() {
	key := changeid.Generate(changeid.Seed{Message: "e2e list"})
	commit := s.commit(s.base, key, "list me")
	pushed := s.push(commit, "refs/for/main%topic=e2e-list")

	resp, body := s.do(http.MethodGet, "/changes?topic=e2e-list", nil)
	require.Equal(s.T(), http.StatusOK, resp.StatusCode, string(body))

	var out struct {
		Changes []changeModel.ChangeResponse `json:"changes"`
	}
	require.NoError(s.T(), json.Unmarshal(body, &out))
	require.Len(s.T(), out.Changes, 1)
	assert.Equal(s.T(), pushed.Change.Number, out.Changes[0].Number)
}
