package dto

import (
	"testing"
	"time"

	"deposit-ledger/internal/core/domain"

	"github.com/gin-gonic/gin/binding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- SanitizeStruct tests ---

func TestSanitizeStruct_TrimsWhitespace(t *testing.T) {
	ref := "  ord-1  "
	req := PostingRequest{
		AmountSOL: " 1.5 ",
		Category:  " adjustment",
		Tag:       "manual-1 ",
		OrderRef:  &ref,
	}
	SanitizeStruct(&req)

	assert.Equal(t, "1.5", req.AmountSOL)
	assert.Equal(t, "adjustment", req.Category)
	assert.Equal(t, "manual-1", req.Tag)
	assert.Equal(t, "ord-1", *req.OrderRef)
}

func TestSanitizeStruct_NilPointerIsNoOp(t *testing.T) {
	req := PostingRequest{Tag: "x"}
	SanitizeStruct(&req)
	assert.Nil(t, req.OrderRef)
}

func TestSanitizeStruct_NonPointerIsNoOp(t *testing.T) {
	s := "hello"
	SanitizeStruct(s) // should not panic
}

// --- Custom Validator tests ---

func TestSafeID_Valid(t *testing.T) {
	cases := []string{
		"ref-001",
		"REF_002",
		"a.b.c",
		"simple123",
		"5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW",
	}
	for _, tc := range cases {
		assert.True(t, safeStringRe.MatchString(tc), "expected valid: %s", tc)
	}
}

func TestSafeID_Invalid(t *testing.T) {
	cases := []string{
		"ref 001",  // space
		"ref<001>", // angle brackets
		"ref;DROP", // semicolon
		"",         // empty
		"ref\n001", // newline
	}
	for _, tc := range cases {
		assert.False(t, safeStringRe.MatchString(tc), "expected invalid: %s", tc)
	}
}

func TestPostingRequest_Validation(t *testing.T) {
	tests := []struct {
		name    string
		req     PostingRequest
		wantErr bool
	}{
		{"lamports", PostingRequest{Amount: 10, Category: "adjustment", Tag: "t-1"}, false},
		{"sol", PostingRequest{AmountSOL: "0.25", Category: "deposit", Tag: "t-2"}, false},
		{"unknown category", PostingRequest{Amount: 10, Category: "gift", Tag: "t-3"}, true},
		{"unsafe tag", PostingRequest{Amount: 10, Category: "adjustment", Tag: "a b"}, true},
		{"sub-lamport sol", PostingRequest{AmountSOL: "0.0000000001", Category: "adjustment", Tag: "t-4"}, true},
		{"negative sol", PostingRequest{AmountSOL: "-1", Category: "adjustment", Tag: "t-5"}, true},
		{"negative lamports", PostingRequest{Amount: -5, Category: "adjustment", Tag: "t-6"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := binding.Validator.ValidateStruct(&tt.req)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPostingRequest_Lamports(t *testing.T) {
	n, err := (&PostingRequest{Amount: 42}).Lamports()
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	n, err = (&PostingRequest{AmountSOL: "1.5"}).Lamports()
	require.NoError(t, err)
	assert.Equal(t, int64(1_500_000_000), n)

	_, err = (&PostingRequest{}).Lamports()
	assert.ErrorIs(t, err, errAmountChoice)

	_, err = (&PostingRequest{Amount: 1, AmountSOL: "1"}).Lamports()
	assert.ErrorIs(t, err, errAmountChoice)
}

func TestNewAccountResponse(t *testing.T) {
	addr := "Addr1"
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	resp := NewAccountResponse(&domain.Account{
		ID:             3,
		ExternalID:     77,
		Balance:        1_250_000_000,
		DepositAddress: &addr,
		CreatedAt:      created,
	})

	assert.Equal(t, "1.250000000", resp.BalanceSOL)
	assert.Equal(t, "2026-03-01T12:00:00Z", resp.CreatedAt)
	assert.Equal(t, &addr, resp.DepositAddress)
}
