package utils

import (
	"encoding/json"
	"fmt"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"

	"github.com/Djtrixuk/moltydex-x402-example/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// ParsePaymentRequired parses a 402 response body into the list of
// payment options the server accepts. Both encodings seen in the wild
// are handled: the x402 envelope {"x402Version":1,"accepts":[...]} and
// the flat single-option body older MoltyDEX deployments send.
func ParsePaymentRequired(data []byte) (*types.PaymentRequiredResponse, error) {
	if len(data) == 0 {
		return nil, types.NewError(types.ErrMalformedRequirement, "402 response body is empty")
	}

	var resp types.PaymentRequiredResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, types.WrapError(types.ErrMalformedRequirement, "failed to parse 402 response body", err)
	}

	if len(resp.Accepts) == 0 {
		var opt types.PaymentOption
		if err := json.Unmarshal(data, &opt); err != nil {
			return nil, types.WrapError(types.ErrMalformedRequirement, "failed to parse 402 response body", err)
		}
		if opt.Asset == "" && opt.Token == "" {
			return nil, types.NewError(types.ErrMalformedRequirement, "402 response carries no payment options")
		}
		resp.Accepts = []types.PaymentOption{opt}
	}

	return &resp, nil
}

// NormalizeOption reconciles a wire option's field-name variants into
// an immutable PaymentRequirement and validates it.
func NormalizeOption(opt *types.PaymentOption) (*types.PaymentRequirement, error) {
	asset := opt.Asset
	if asset == "" {
		asset = opt.Token
	}

	payTo := opt.PayTo
	if payTo == "" {
		payTo = opt.Destination
	}

	var amount uint64
	switch {
	case opt.MaxAmountRequired != nil:
		amount = opt.MaxAmountRequired.Uint64()
	case opt.Amount != nil:
		amount = opt.Amount.Uint64()
	}

	scheme := opt.Scheme
	if scheme == "" {
		scheme = types.SchemeExact
	}

	req := &types.PaymentRequirement{
		Scheme:            scheme,
		Network:           types.NormalizeNetwork(opt.Scheme, opt.Network),
		Asset:             asset,
		Amount:            amount,
		PayTo:             payTo,
		MaxTimeoutSeconds: opt.MaxTimeoutSeconds,
		Resource:          opt.Resource,
		Extra:             stringExtra(opt.Extra),
	}

	if err := validate.Struct(req); err != nil {
		return nil, types.WrapError(types.ErrMalformedRequirement, "payment option is missing required fields", err)
	}

	return req, nil
}

// stringExtra keeps only string-valued extra metadata; that is all the
// exact scheme defines (EIP-712 domain name and version).
func stringExtra(extra map[string]interface{}) map[string]string {
	if len(extra) == 0 {
		return nil
	}
	out := make(map[string]string, len(extra))
	for k, v := range extra {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ApplyDefaults fills zero-valued config fields from their default tags.
func ApplyDefaults(v interface{}) error {
	if err := defaults.Set(v); err != nil {
		return types.WrapError(types.ErrConfig, "failed to apply defaults", err)
	}
	return nil
}

// ValidateStruct validates a struct against its validate tags.
func ValidateStruct(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		return types.WrapError(types.ErrConfig, "validation failed", err)
	}
	return nil
}

// ParseConfig parses and validates a Config from JSON, applying defaults.
func ParseConfig(data []byte) (*types.Config, error) {
	var config types.Config

	if err := json.Unmarshal(data, &config); err != nil {
		return nil, types.WrapError(types.ErrConfig, fmt.Sprintf("failed to parse config: %v", err), err)
	}

	if err := ApplyDefaults(&config); err != nil {
		return nil, err
	}

	if err := ValidateStruct(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// ParseClientConfig parses and validates a ClientConfig from JSON,
// applying defaults.
func ParseClientConfig(data []byte) (*types.ClientConfig, error) {
	var config types.ClientConfig

	if err := json.Unmarshal(data, &config); err != nil {
		return nil, types.WrapError(types.ErrConfig, fmt.Sprintf("failed to parse client config: %v", err), err)
	}

	if err := ApplyDefaults(&config); err != nil {
		return nil, err
	}

	if err := ValidateStruct(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
