package decision

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"testing"
	"time"
)

type stubLLM struct {
	resp []byte
	err  error
	wait time.Duration
}

func (s *stubLLM) Infer(ctx context.Context, snapshotJSON []byte) ([]byte, error) {
	if s.wait > 0 {
		select {
		case <-time.After(s.wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func newFallback() *RuleSource {
	return NewRuleSource(testLimits, WithRand(rand.New(rand.NewSource(1))))
}

func TestInferenceSuccess(t *testing.T) {
	client := &stubLLM{resp: []byte(`{"action":"trade","target":"agent-2","amount":0.005,"reason":"momentum"}`)}
	src := NewInferenceSource(client, newFallback())

	d, err := src.Decide(context.Background(), ruleSnapshot(1.0, 3, "agent-2"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Action != ActionTrade || d.Target != "agent-2" || d.Amount != 0.005 {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if d.Source != OriginInference {
		t.Fatalf("expected inference origin, got %s", d.Source)
	}
}

func TestInferencePassesSnapshotJSON(t *testing.T) {
	var captured []byte
	client := &captureLLM{resp: []byte(`{"action":"IDLE","reason":"wait"}`), captured: &captured}
	src := NewInferenceSource(client, newFallback())

	snap := ruleSnapshot(0.5, 9, "agent-2")
	if _, err := src.Decide(context.Background(), snap); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded Snapshot
	if err := json.Unmarshal(captured, &decoded); err != nil {
		t.Fatalf("snapshot payload is not valid JSON: %v", err)
	}
	if decoded.AgentID != snap.AgentID || decoded.Balance != snap.Balance || decoded.CycleNumber != snap.CycleNumber {
		t.Fatalf("snapshot fields lost in payload: %+v", decoded)
	}
}

type captureLLM struct {
	resp     []byte
	captured *[]byte
}

func (c *captureLLM) Infer(_ context.Context, snapshotJSON []byte) ([]byte, error) {
	*c.captured = snapshotJSON
	return c.resp, nil
}

func TestInferenceFallsBackOnError(t *testing.T) {
	client := &stubLLM{err: errors.New("backend down")}
	src := NewInferenceSource(client, newFallback())

	d, err := src.Decide(context.Background(), ruleSnapshot(1.0, 14, "agent-2"))
	if err != nil {
		t.Fatalf("fallback must hide the inference error, got %v", err)
	}
	if d.Source != OriginRule {
		t.Fatalf("expected rule origin after fallback, got %s", d.Source)
	}
	if d.Action != ActionYield {
		t.Fatalf("fallback must decide on the same snapshot, got %+v", d)
	}
}

func TestInferenceFallsBackOnTimeout(t *testing.T) {
	client := &stubLLM{wait: 200 * time.Millisecond, resp: []byte(`{"action":"IDLE","reason":"late"}`)}
	var cause error
	src := NewInferenceSource(client, newFallback(),
		WithTimeout(10*time.Millisecond),
		WithFallbackObserver(func(_ string, err error) { cause = err }),
	)

	d, err := src.Decide(context.Background(), ruleSnapshot(1.0, 14, "agent-2"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Source != OriginRule {
		t.Fatalf("expected rule origin after timeout, got %s", d.Source)
	}
	if cause == nil {
		t.Fatalf("fallback observer not invoked")
	}
}

func TestInferenceFallsBackOnMalformedResponse(t *testing.T) {
	for _, resp := range [][]byte{
		[]byte(`not json at all`),
		[]byte(`{"target":"agent-2","amount":0.001}`), // 缺 action
	} {
		client := &stubLLM{resp: resp}
		src := NewInferenceSource(client, newFallback())

		d, err := src.Decide(context.Background(), ruleSnapshot(1.0, 14, "agent-2"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if d.Source != OriginRule {
			t.Fatalf("response %q: expected rule fallback, got %+v", resp, d)
		}
	}
}

func TestInferenceUnknownActionReachesValidator(t *testing.T) {
	// 未知动作不触发回退，由校验器统一替换为 IDLE。
	client := &stubLLM{resp: []byte(`{"action":"LEVERAGE","amount":0.5,"reason":"yolo"}`)}
	src := NewInferenceSource(client, newFallback())

	snap := ruleSnapshot(1.0, 3, "agent-2")
	d, err := src.Decide(context.Background(), snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Source != OriginInference {
		t.Fatalf("unknown action must not trigger fallback: %+v", d)
	}

	validated := Validate(d, snap, testLimits)
	if validated.Action != ActionIdle || validated.Reason != "invalid action" {
		t.Fatalf("validator must neutralize unknown action: %+v", validated)
	}
}
