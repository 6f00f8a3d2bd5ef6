package memory

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"AgentVault/internal/wallet"
)

func TestBankOpenRejectsDuplicates(t *testing.T) {
	bank := NewBank()
	if _, err := bank.Open("a", 1.0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := bank.Open("a", 1.0); err == nil {
		t.Fatalf("expected duplicate account error")
	}
}

func TestBankTransferChecksFunds(t *testing.T) {
	bank := NewBank()
	a, _ := bank.Open("a", 0.5)
	if _, err := bank.Open("b", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := a.Transfer(context.Background(), "b", 1.0); err == nil {
		t.Fatalf("expected insufficient funds error")
	}
	if _, err := a.Transfer(context.Background(), "b", -0.1); err == nil {
		t.Fatalf("expected error for negative amount")
	}

	receipt, err := a.Transfer(context.Background(), "b", 0.2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.TxHash == "" || receipt.From != "a" || receipt.To != "b" {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}

	balance, _ := a.Balance(context.Background())
	if balance != 0.3 {
		t.Fatalf("expected 0.3 remaining, got %f", balance)
	}
}

func TestBankConcurrentTransfersConserveTotal(t *testing.T) {
	bank := NewBank()
	a, _ := bank.Open("a", 10)
	b, _ := bank.Open("b", 10)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = a.Transfer(context.Background(), "b", 0.1)
		}()
		go func() {
			defer wg.Done()
			_, _ = b.Transfer(context.Background(), "a", 0.1)
		}()
	}
	wg.Wait()

	balanceA, _ := a.Balance(context.Background())
	balanceB, _ := b.Balance(context.Background())
	if total := balanceA + balanceB; total < 19.999999 || total > 20.000001 {
		t.Fatalf("total not conserved: %f", total)
	}
}

func TestPartialSignIsDeterministicPerIntent(t *testing.T) {
	bank := NewBank()
	a, _ := bank.Open("a", 1)
	if _, err := bank.Open("b", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	intent := wallet.NewSignedIntent("a", "b", 0.5, "test")
	first, err := a.PartialSign(context.Background(), intent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := a.PartialSign(context.Background(), intent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(first.Signatures) != 1 {
		t.Fatalf("expected one signature, got %d", len(first.Signatures))
	}
	if !bytes.Equal(first.Signatures["a"], second.Signatures["a"]) {
		t.Fatalf("same intent must produce the same signature")
	}
	if len(intent.Signatures) != 0 {
		t.Fatalf("PartialSign must not mutate the input intent")
	}
}

func TestBroadcastRejectsUnsignedIntent(t *testing.T) {
	bank := NewBank()
	a, _ := bank.Open("a", 1)
	if _, err := bank.Open("b", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	intent := wallet.NewSignedIntent("a", "b", 0.5, "test")
	if _, err := a.Broadcast(context.Background(), intent); err == nil {
		t.Fatalf("expected error for unsigned intent")
	}

	signed, err := a.PartialSign(context.Background(), intent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	receipt, err := a.Broadcast(context.Background(), signed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.Amount != 0.5 {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
}
