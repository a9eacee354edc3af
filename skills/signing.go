// Copyright 2025 The proofd Authors
// This file is part of the proofd library.
//
// The proofd library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The proofd library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the proofd library. If not, see <http://www.gnu.org/licenses/>.

package skills

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nullifier-labs/proofd/circuits"
	"github.com/nullifier-labs/proofd/flow"
	"github.com/nullifier-labs/proofd/payments"
)

// requestSigning mints a signing request and binds it to the conversation
// context, so follow-up skills can omit the requestId.
func (d *Dispatcher) requestSigning(ctx context.Context, params map[string]any, contextID string) Outcome {
	circuitID := paramString(params, "circuitId")
	scope := paramString(params, "scope")

	var missing []string
	if circuitID == "" {
		missing = append(missing, "circuitId")
	}
	if scope == "" {
		missing = append(missing, "scope")
	}
	if len(missing) > 0 {
		return failed(fmt.Sprintf("request_signing is missing required fields: %v.", missing))
	}
	if _, ok := circuits.Get(circuitID); !ok {
		return failed(fmt.Sprintf("Unknown circuit %q.", circuitID))
	}

	req, err := d.deps.Requests.Create(ctx, circuitID, scope,
		paramStringSlice(params, "countryList"), paramBool(params, "isIncluded"))
	if err != nil {
		return failed(fmt.Sprintf("Could not create signing request: %v.", err))
	}
	if contextID != "" {
		if err := d.deps.Tasks.SetContextFlow(ctx, contextID, req.ID); err != nil {
			d.log.Warn("Context flow mapping failed", "context", contextID, "request", req.ID, "err", err)
		}
	}
	return inputRequired("signing", signingData(req))
}

func signingData(req *flow.Request) map[string]any {
	return map[string]any{
		"requestId":  req.ID,
		"signingUrl": req.SigningURL,
		"expiresAt":  req.ExpiresAt.Format(time.RFC3339),
		"circuitId":  req.CircuitID,
		"scope":      req.Scope,
	}
}

// requestPayment mints (or re-serves) the payment descriptor for a signed
// request. Before signing completes or after payment completes it fails.
func (d *Dispatcher) requestPayment(ctx context.Context, params map[string]any, contextID string) Outcome {
	requestID := d.resolveRequestID(ctx, params, contextID)
	if requestID == "" {
		return failed("No requestId given and no signing request is associated with this conversation.")
	}

	req, err := d.deps.Requests.Get(ctx, requestID)
	if err != nil {
		return failed(fmt.Sprintf("Request %s not found or expired.", requestID))
	}

	if d.deps.PaymentMode == payments.ModeDisabled {
		if req.Phase == flow.PhasePayment {
			if _, err := d.deps.Requests.SkipPayment(ctx, requestID); err != nil {
				return failed(fmt.Sprintf("Could not advance request %s: %v.", requestID, err))
			}
		}
		return completed("payment", map[string]any{
			"requestId": requestID,
			"required":  false,
		})
	}

	// Idempotent on a pending payment: re-attach and re-serve.
	req, err = d.deps.Requests.AttachPayment(ctx, requestID, flow.PaymentState{
		Amount:   d.deps.Price,
		Currency: "USDC",
		Network:  d.deps.PaymentMode.Network(),
	})
	if err != nil {
		if errors.Is(err, flow.ErrInvalidPhase) {
			return failed(fmt.Sprintf("Payment cannot be requested for %s: %v.", requestID, err))
		}
		return failed(fmt.Sprintf("Could not attach payment to request %s: %v.", requestID, err))
	}

	return inputRequired("payment", map[string]any{
		"requestId":  req.ID,
		"paymentUrl": req.Payment.PaymentURL,
		"amount":     req.Payment.Amount,
		"currency":   req.Payment.Currency,
		"network":    req.Payment.Network,
	})
}
