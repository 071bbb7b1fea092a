package payment

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Gateway protocol fields.
const (
	FieldVersion        = "vnp_Version"
	FieldCommand        = "vnp_Command"
	FieldTmnCode        = "vnp_TmnCode"
	FieldLocale         = "vnp_Locale"
	FieldCurrCode       = "vnp_CurrCode"
	FieldTxnRef         = "vnp_TxnRef"
	FieldOrderInfo      = "vnp_OrderInfo"
	FieldOrderType      = "vnp_OrderType"
	FieldAmount         = "vnp_Amount"
	FieldReturnURL      = "vnp_ReturnUrl"
	FieldIPAddr         = "vnp_IpAddr"
	FieldCreateDate     = "vnp_CreateDate"
	FieldResponseCode   = "vnp_ResponseCode"
	FieldTransactionNo  = "vnp_TransactionNo"
	FieldBankCode       = "vnp_BankCode"
	FieldPayDate        = "vnp_PayDate"
	FieldSecureHash     = "vnp_SecureHash"
	FieldSecureHashType = "vnp_SecureHashType"
)

const (
	protocolVersion = "2.1.0"
	commandPay      = "pay"
	currencyCode    = "VND"
	orderTypeOther  = "other"
	dateLayout      = "20060102150405"

	// SuccessCode is the only response code that means the payment went through.
	SuccessCode = "00"

	// AmountScale is the factor the gateway applies to amounts on the wire.
	AmountScale = 100
)

// ErrInvalidSignature is returned when a callback fails authentication.
var ErrInvalidSignature = errors.New("invalid gateway signature")

// ErrMalformedReturn is returned for a signed callback missing required fields.
var ErrMalformedReturn = errors.New("malformed gateway return")

// PaymentGateway defines the interface for payment providers.
type PaymentGateway interface {
	// Name identifies the provider in logs and metrics.
	Name() string
	// CreatePaymentURL builds the signed redirect URL for a payment.
	CreatePaymentURL(req PaymentRequest) (string, error)
	// ParseReturn authenticates and decodes the browser callback.
	ParseReturn(query url.Values) (*ReturnResult, error)
}

// Config holds the merchant settings for the gateway.
type Config struct {
	PayURL     string
	TmnCode    string
	HashSecret string
	ReturnURL  string
	Locale     string
	Location   *time.Location // zone used for the 14-digit create date
}

// PaymentRequest describes a single outbound payment.
type PaymentRequest struct {
	TxnRef    string
	Amount    int64 // smallest currency unit, unscaled
	OrderInfo string
	ClientIP  string
	CreatedAt time.Time
}

// ReturnResult is the authenticated content of a gateway callback.
type ReturnResult struct {
	TxnRef        string
	ResponseCode  string
	TransactionNo string
	BankCode      string
	Amount        int64 // unscaled back to the smallest currency unit
	Raw           map[string]string
}

// Succeeded reports whether the gateway reported a successful payment.
func (r *ReturnResult) Succeeded() bool {
	return r.ResponseCode == SuccessCode
}

// HMACGateway is a redirect gateway authenticated with HMAC-SHA512.
type HMACGateway struct {
	cfg    Config
	signer *Signer
}

// NewHMACGateway validates cfg and returns a gateway client.
func NewHMACGateway(cfg Config) (*HMACGateway, error) {
	if cfg.PayURL == "" || cfg.TmnCode == "" || cfg.HashSecret == "" || cfg.ReturnURL == "" {
		return nil, fmt.Errorf("gateway: pay url, merchant code, hash secret and return url are required")
	}
	if _, err := url.Parse(cfg.PayURL); err != nil {
		return nil, fmt.Errorf("gateway: invalid pay url: %w", err)
	}
	if cfg.Locale == "" {
		cfg.Locale = "vn"
	}
	if cfg.Location == nil {
		cfg.Location = time.FixedZone("ICT", 7*60*60)
	}
	return &HMACGateway{
		cfg:    cfg,
		signer: NewSigner(cfg.HashSecret, FieldSecureHash, FieldSecureHashType),
	}, nil
}

func (g *HMACGateway) Name() string { return "vnpay" }

// Signer exposes the signature codec used by this gateway.
func (g *HMACGateway) Signer() *Signer { return g.signer }

// CreatePaymentURL assembles the protocol fields, signs them and returns the
// redirect URL with the signature as the final query parameter.
func (g *HMACGateway) CreatePaymentURL(req PaymentRequest) (string, error) {
	if req.TxnRef == "" {
		return "", fmt.Errorf("gateway: transaction reference is required")
	}
	if req.Amount <= 0 {
		return "", fmt.Errorf("gateway: amount must be positive")
	}
	ip := req.ClientIP
	if ip == "" {
		ip = "127.0.0.1"
	}

	params := url.Values{}
	params.Set(FieldVersion, protocolVersion)
	params.Set(FieldCommand, commandPay)
	params.Set(FieldTmnCode, g.cfg.TmnCode)
	params.Set(FieldLocale, g.cfg.Locale)
	params.Set(FieldCurrCode, currencyCode)
	params.Set(FieldTxnRef, req.TxnRef)
	params.Set(FieldOrderInfo, req.OrderInfo)
	params.Set(FieldOrderType, orderTypeOther)
	params.Set(FieldAmount, strconv.FormatInt(req.Amount*AmountScale, 10))
	params.Set(FieldReturnURL, g.cfg.ReturnURL)
	params.Set(FieldIPAddr, ip)
	params.Set(FieldCreateDate, FormatCreateDate(req.CreatedAt, g.cfg.Location))

	sep := "?"
	if strings.Contains(g.cfg.PayURL, "?") {
		sep = "&"
	}
	return g.cfg.PayURL + sep + g.signer.SignedQuery(params), nil
}

// ParseReturn verifies the signature before reading any field.
func (g *HMACGateway) ParseReturn(query url.Values) (*ReturnResult, error) {
	if !g.signer.Verify(query) {
		return nil, ErrInvalidSignature
	}

	res := &ReturnResult{
		TxnRef:        query.Get(FieldTxnRef),
		ResponseCode:  query.Get(FieldResponseCode),
		TransactionNo: query.Get(FieldTransactionNo),
		BankCode:      query.Get(FieldBankCode),
		Raw:           make(map[string]string, len(query)),
	}
	for k := range query {
		res.Raw[k] = query.Get(k)
	}
	if res.TxnRef == "" || res.ResponseCode == "" {
		return nil, ErrMalformedReturn
	}
	scaled, err := strconv.ParseInt(query.Get(FieldAmount), 10, 64)
	if err != nil || scaled < 0 {
		return nil, ErrMalformedReturn
	}
	res.Amount = scaled / AmountScale
	if scaled%AmountScale != 0 {
		res.Amount = -1
	}
	return res, nil
}

// FormatCreateDate renders t as YYYYMMDDHHmmss in loc.
func FormatCreateDate(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(dateLayout)
}
