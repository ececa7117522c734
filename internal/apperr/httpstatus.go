package apperr

import (
	"errors"
	"net/http"
)

type kind struct {
	err    error
	status int
	code   string
}

var kinds = []kind{
	{ErrValidation, http.StatusBadRequest, CodeValidation},
	{ErrInvalidTransition, http.StatusBadRequest, CodeInvalidTransition},
	{ErrNoFundedUtxo, http.StatusBadRequest, CodeNoFundedUtxo},
	{ErrInsufficientFunds, http.StatusBadRequest, CodeInsufficientFunds},
	{ErrOutputsMismatch, http.StatusBadRequest, CodeOutputsMismatch},
	{ErrRBFDisabled, http.StatusBadRequest, CodeRBFDisabled},
	{ErrMissingInputValue, http.StatusBadRequest, CodeMissingInputValue},
	{ErrFeeMismatch, http.StatusBadRequest, CodeFeeMismatch},
	{ErrNegativeFee, http.StatusBadRequest, CodeNegativeFee},
	{ErrExceedsFunding, http.StatusBadRequest, CodeExceedsFunding},
	{ErrNotEnoughSignatures, http.StatusBadRequest, CodeNotEnoughSignatures},
	{ErrUnexpectedChange, http.StatusBadRequest, CodeUnexpectedChange},
	{ErrNotFound, http.StatusNotFound, CodeNotFound},
	{ErrUnauthorized, http.StatusUnauthorized, CodeUnauthorized},
	{ErrRateLimited, http.StatusTooManyRequests, CodeRateLimited},
	{ErrUpstreamError, http.StatusInternalServerError, CodeUpstreamError},
	{ErrUpstreamUnavailable, http.StatusBadGateway, CodeUpstreamUnavailable},
}

// HTTPStatus maps an error produced anywhere in the coordinator to the HTTP
// status code it should surface as. Errors not matching a known kind map to
// 500 with CodeInternal.
func HTTPStatus(err error) (status int, code string) {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.status, k.code
		}
	}
	return http.StatusInternalServerError, CodeInternal
}
