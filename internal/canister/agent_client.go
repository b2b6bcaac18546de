package canister

import (
	"context"
	"fmt"

	"github.com/Klingon-tech/icwallet/internal/agent"
	"github.com/Klingon-tech/icwallet/pkg/candid"
	"github.com/Klingon-tech/icwallet/pkg/principal"
)

// Candid signatures of the remote methods.
var (
	ownerArg       = candid.Opt{Elem: candid.Principal}
	textResultType = resultType(candid.Text)
	natResultType  = resultType(candid.Nat64)
)

func resultType(ok candid.Type) candid.Variant {
	return candid.Variant{Fields: []candid.Field{
		candid.NewField("Ok", ok),
		candid.NewField("Err", candid.Text),
	}}
}

// AgentClient calls the canister through an Internet Computer agent.
type AgentClient struct {
	agent    *agent.Agent
	canister principal.Principal
}

// NewAgentClient creates a client for canister reached through a.
func NewAgentClient(a *agent.Agent, canister principal.Principal) *AgentClient {
	return &AgentClient{agent: a, canister: canister}
}

func (c *AgentClient) GetAddress(ctx context.Context, owner *principal.Principal) (Result[string], error) {
	reply, err := c.call(ctx, MethodGetAddress, []candid.Type{ownerArg}, []any{optOwner(owner)})
	if err != nil {
		return Result[string]{}, err
	}
	return decodeResult[string](reply)
}

func (c *AgentClient) GetBalance(ctx context.Context, owner *principal.Principal) (Result[uint64], error) {
	reply, err := c.call(ctx, MethodGetBalance, []candid.Type{ownerArg}, []any{optOwner(owner)})
	if err != nil {
		return Result[uint64]{}, err
	}
	return decodeResult[uint64](reply)
}

func (c *AgentClient) SendBTC(ctx context.Context, address string, satoshi uint64) (Result[string], error) {
	reply, err := c.call(ctx, MethodSendBTC, []candid.Type{candid.Text, candid.Nat64}, []any{address, satoshi})
	if err != nil {
		return Result[string]{}, err
	}
	return decodeResult[string](reply)
}

func (c *AgentClient) call(ctx context.Context, method string, types []candid.Type, args []any) ([]byte, error) {
	arg, err := candid.Marshal(types, args)
	if err != nil {
		return nil, fmt.Errorf("encode %s args: %w", method, err)
	}
	reply, err := c.agent.Call(ctx, c.canister, method, arg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return reply, nil
}

func optOwner(owner *principal.Principal) candid.Option {
	if owner == nil {
		return candid.None
	}
	return candid.Some(*owner)
}

// decodeResult reads the first reply value as variant { Ok : T; Err : text }.
func decodeResult[T any](reply []byte) (Result[T], error) {
	types, values, err := candid.Unmarshal(reply)
	if err != nil {
		return Result[T]{}, fmt.Errorf("decode reply: %w", err)
	}
	if len(values) == 0 {
		return Result[T]{}, fmt.Errorf("decode reply: no values")
	}
	if _, ok := types[0].(candid.Variant); !ok {
		return Result[T]{}, fmt.Errorf("decode reply: expected variant, got %s", types[0])
	}
	v, ok := values[0].(candid.VariantValue)
	if !ok {
		return Result[T]{}, fmt.Errorf("decode reply: expected variant value")
	}
	switch {
	case v.Is("Ok"):
		payload, ok := v.Value.(T)
		if !ok {
			return Result[T]{}, fmt.Errorf("decode reply: Ok payload is %T", v.Value)
		}
		return Ok(payload), nil
	case v.Is("Err"):
		msg, ok := v.Value.(string)
		if !ok {
			return Result[T]{}, fmt.Errorf("decode reply: Err payload is %T", v.Value)
		}
		return Err[T](msg), nil
	}
	return Result[T]{}, fmt.Errorf("decode reply: unknown variant field %d", v.ID)
}
