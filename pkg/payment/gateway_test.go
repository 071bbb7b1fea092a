package payment

import (
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"
)

func testGateway(t *testing.T) *HMACGateway {
	t.Helper()
	g, err := NewHMACGateway(Config{
		PayURL:     "https://sandbox.example.com/paymentv2/vpcpay.html",
		TmnCode:    "DEMO1234",
		HashSecret: "topsecret",
		ReturnURL:  "https://api.example.com/api/payment/return",
		Location:   time.FixedZone("ICT", 7*60*60),
	})
	if err != nil {
		t.Fatalf("NewHMACGateway: %v", err)
	}
	return g
}

func TestNewHMACGateway_RequiresMerchantSettings(t *testing.T) {
	if _, err := NewHMACGateway(Config{PayURL: "https://x"}); err == nil {
		t.Fatal("expected error for missing settings")
	}
}

func TestCreatePaymentURL_Fields(t *testing.T) {
	g := testGateway(t)
	created := time.Date(2026, 1, 31, 17, 4, 5, 0, time.UTC)

	raw, err := g.CreatePaymentURL(PaymentRequest{
		TxnRef:    "REF123",
		Amount:    2_000_000,
		OrderInfo: "Pro plan monthly",
		ClientIP:  "203.0.113.9",
		CreatedAt: created,
	})
	if err != nil {
		t.Fatalf("CreatePaymentURL: %v", err)
	}
	if !strings.HasPrefix(raw, "https://sandbox.example.com/paymentv2/vpcpay.html?") {
		t.Fatalf("unexpected url prefix: %s", raw)
	}

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	q := u.Query()

	want := map[string]string{
		FieldVersion:    "2.1.0",
		FieldCommand:    "pay",
		FieldTmnCode:    "DEMO1234",
		FieldLocale:     "vn",
		FieldCurrCode:   "VND",
		FieldTxnRef:     "REF123",
		FieldOrderInfo:  "Pro plan monthly",
		FieldOrderType:  "other",
		FieldAmount:     "200000000",
		FieldReturnURL:  "https://api.example.com/api/payment/return",
		FieldIPAddr:     "203.0.113.9",
		FieldCreateDate: "20260201000405", // 17:04:05 UTC is past midnight in UTC+7
	}
	for k, v := range want {
		if got := q.Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	if !strings.HasSuffix(u.RawQuery, FieldSecureHash+"="+q.Get(FieldSecureHash)) {
		t.Errorf("signature is not the last query parameter: %s", u.RawQuery)
	}
	if !g.Signer().Verify(q) {
		t.Error("outbound url should carry a valid signature")
	}
}

func TestCreatePaymentURL_Rejects(t *testing.T) {
	g := testGateway(t)
	if _, err := g.CreatePaymentURL(PaymentRequest{Amount: 10}); err == nil {
		t.Error("expected error without txn ref")
	}
	if _, err := g.CreatePaymentURL(PaymentRequest{TxnRef: "x"}); err == nil {
		t.Error("expected error without amount")
	}
}

func callback(g *HMACGateway, code string, amount string) url.Values {
	p := url.Values{}
	p.Set(FieldTmnCode, "DEMO1234")
	p.Set(FieldTxnRef, "REF123")
	p.Set(FieldAmount, amount)
	p.Set(FieldResponseCode, code)
	p.Set(FieldTransactionNo, "14000001")
	p.Set(FieldBankCode, "NCB")
	p.Set(FieldPayDate, "20260201000500")
	p.Set(FieldSecureHash, g.Signer().Sign(p))
	p.Set(FieldSecureHashType, "HmacSHA512")
	return p
}

func TestParseReturn(t *testing.T) {
	g := testGateway(t)

	t.Run("success", func(t *testing.T) {
		res, err := g.ParseReturn(callback(g, "00", "200000000"))
		if err != nil {
			t.Fatalf("ParseReturn: %v", err)
		}
		if !res.Succeeded() {
			t.Error("expected success")
		}
		if res.Amount != 2_000_000 {
			t.Errorf("amount = %d, want 2000000", res.Amount)
		}
		if res.TxnRef != "REF123" || res.TransactionNo != "14000001" || res.BankCode != "NCB" {
			t.Errorf("unexpected fields: %+v", res)
		}
		if res.Raw[FieldResponseCode] != "00" {
			t.Error("raw payload should keep every field")
		}
	})

	t.Run("failure code", func(t *testing.T) {
		res, err := g.ParseReturn(callback(g, "24", "200000000"))
		if err != nil {
			t.Fatalf("ParseReturn: %v", err)
		}
		if res.Succeeded() {
			t.Error("code 24 must not be treated as success")
		}
	})

	t.Run("forged", func(t *testing.T) {
		q := callback(g, "24", "200000000")
		q.Set(FieldResponseCode, "00")
		if _, err := g.ParseReturn(q); !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("err = %v, want ErrInvalidSignature", err)
		}
	})

	t.Run("malformed amount", func(t *testing.T) {
		if _, err := g.ParseReturn(callback(g, "00", "abc")); !errors.Is(err, ErrMalformedReturn) {
			t.Fatalf("err = %v, want ErrMalformedReturn", err)
		}
	})

	t.Run("fractional amount", func(t *testing.T) {
		res, err := g.ParseReturn(callback(g, "00", "200000050"))
		if err != nil {
			t.Fatalf("ParseReturn: %v", err)
		}
		if res.Amount != -1 {
			t.Errorf("amount = %d, want -1 for a non-integral scaled amount", res.Amount)
		}
	})
}

func TestFormatCreateDate(t *testing.T) {
	ts := time.Date(2024, 2, 29, 23, 59, 58, 0, time.UTC)
	if got := FormatCreateDate(ts, nil); got != "20240229235958" {
		t.Fatalf("got %q", got)
	}
	if got := len(FormatCreateDate(ts, time.FixedZone("X", 3600))); got != 14 {
		t.Fatalf("expected 14 digits, got %d", got)
	}
}
