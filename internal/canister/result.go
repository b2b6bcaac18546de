package canister

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Result is the canister's `variant { Ok : T; Err : text }`. Exactly one
// side is set.
type Result[T any] struct {
	ok    T
	err   string
	isErr bool
}

// Ok builds a successful result.
func Ok[T any](v T) Result[T] { return Result[T]{ok: v} }

// Err builds a failed result carrying the canister's message.
func Err[T any](msg string) Result[T] { return Result[T]{err: msg, isErr: true} }

// IsOk reports whether the result is the Ok side.
func (r Result[T]) IsOk() bool { return !r.isErr }

// Value returns the Ok payload.
func (r Result[T]) Value() (T, bool) { return r.ok, !r.isErr }

// ErrMessage returns the Err payload.
func (r Result[T]) ErrMessage() (string, bool) { return r.err, r.isErr }

func (r Result[T]) String() string {
	if r.isErr {
		return "Err(" + r.err + ")"
	}
	return fmt.Sprintf("Ok(%v)", r.ok)
}

// MarshalJSON encodes as {"Ok": v} or {"Err": msg}.
func (r Result[T]) MarshalJSON() ([]byte, error) {
	if r.isErr {
		return json.Marshal(struct {
			Err string `json:"Err"`
		}{r.err})
	}
	return json.Marshal(struct {
		Ok T `json:"Ok"`
	}{r.ok})
}

// UnmarshalJSON accepts exactly one of Ok or Err.
func (r *Result[T]) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	okRaw, hasOk := raw["Ok"]
	errRaw, hasErr := raw["Err"]
	if hasOk == hasErr || len(raw) != 1 {
		return errors.New("result must have exactly one of Ok or Err")
	}
	if hasOk {
		var v T
		if err := json.Unmarshal(okRaw, &v); err != nil {
			return fmt.Errorf("decode Ok: %w", err)
		}
		*r = Ok(v)
		return nil
	}
	var msg string
	if err := json.Unmarshal(errRaw, &msg); err != nil {
		return fmt.Errorf("decode Err: %w", err)
	}
	*r = Err[T](msg)
	return nil
}
