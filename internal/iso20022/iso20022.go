// Package iso20022 holds the typed JSON envelopes exchanged with the
// detection engine: pacs.008 credit transfers and pacs.002 payment status
// reports. Required fields are plain values; optional ones are pointers or
// omitempty, and every accessor is total.
package iso20022

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/osprey-verify/internal/domain"
	"github.com/shopspring/decimal"
)

// Message type identifiers as used in the evaluation endpoint path.
const (
	MessageTypePacs008 = "pacs.008.001.10"
	MessageTypePacs002 = "pacs.002.001.12"
	MessageTypePain001 = "pain.001.001.11"
	MessageTypePain013 = "pain.013.001.09"
)

// ErrMalformed is returned when an envelope lacks a required element.
var ErrMalformed = errors.New("malformed iso20022 envelope")

// UnknownAccount is reported for a transaction without a usable debtor account.
const UnknownAccount = "UNKNOWN"

// Pacs008 is an FI to FI customer credit transfer.
type Pacs008 struct {
	TenantID          string         `json:"TenantId,omitempty"`
	FIToFICstmrCdtTrf CreditTransfer `json:"FIToFICstmrCdtTrf"`
}

// CreditTransfer is the pacs.008 document body.
type CreditTransfer struct {
	GrpHdr      GroupHeader  `json:"GrpHdr"`
	CdtTrfTxInf Transactions `json:"CdtTrfTxInf"`
}

// GroupHeader identifies one message.
type GroupHeader struct {
	MsgId    string          `json:"MsgId"`
	CreDtTm  string          `json:"CreDtTm"`
	NbOfTxs  int             `json:"NbOfTxs,omitempty"`
	SttlmInf *SettlementInfo `json:"SttlmInf,omitempty"`
}

// SettlementInfo names the settlement method.
type SettlementInfo struct {
	SttlmMtd string `json:"SttlmMtd"`
}

// CreditTransferTx is one transaction inside a pacs.008.
type CreditTransferTx struct {
	PmtId          PaymentID     `json:"PmtId"`
	IntrBkSttlmAmt ActiveAmount  `json:"IntrBkSttlmAmt"`
	InstdAmt       *ActiveAmount `json:"InstdAmt,omitempty"`
	ChrgBr         string        `json:"ChrgBr,omitempty"`
	Dbtr           Party         `json:"Dbtr"`
	DbtrAcct       Account       `json:"DbtrAcct"`
	DbtrAgt        *Agent        `json:"DbtrAgt,omitempty"`
	CdtrAgt        *Agent        `json:"CdtrAgt,omitempty"`
	Cdtr           Party         `json:"Cdtr"`
	CdtrAcct       Account       `json:"CdtrAcct"`
	RmtInf         *Remittance   `json:"RmtInf,omitempty"`
}

// PaymentID carries the instruction and end-to-end identifiers.
type PaymentID struct {
	InstrId    string `json:"InstrId"`
	EndToEndId string `json:"EndToEndId"`
}

// ActiveAmount wraps an amount the way the engine's schema nests it.
type ActiveAmount struct {
	Amt Amount `json:"Amt"`
}

// Amount is a currency amount. It is written as a JSON number and read
// from either a number or a numeric string.
type Amount struct {
	Amt decimal.Decimal `json:"Amt"`
	Ccy string          `json:"Ccy"`
}

// MarshalJSON writes Amt unquoted.
func (a Amount) MarshalJSON() ([]byte, error) {
	ccy, err := json.Marshal(a.Ccy)
	if err != nil {
		return nil, err
	}
	return []byte(`{"Amt":` + a.Amt.String() + `,"Ccy":` + string(ccy) + `}`), nil
}

// Party is a debtor or creditor.
type Party struct {
	Nm string   `json:"Nm"`
	Id *PartyID `json:"Id,omitempty"`
}

// PartyID is a private identification of a party.
type PartyID struct {
	PrvtId PrivateID `json:"PrvtId"`
}

// PrivateID lists other identifiers of a person.
type PrivateID struct {
	Othr []GenericID `json:"Othr"`
}

// Account identifies a cash account by IBAN or by other identifiers.
type Account struct {
	Id AccountID `json:"Id"`
	Nm string    `json:"Nm,omitempty"`
}

// AccountID holds either an IBAN or a list of other identifiers.
type AccountID struct {
	IBAN string      `json:"IBAN,omitempty"`
	Othr []GenericID `json:"Othr,omitempty"`
}

// Value returns the IBAN, else the first other identifier.
func (a AccountID) Value() (string, bool) {
	if a.IBAN != "" {
		return a.IBAN, true
	}
	if len(a.Othr) > 0 && a.Othr[0].Id != "" {
		return a.Othr[0].Id, true
	}
	return "", false
}

// GenericID is an identifier with its scheme.
type GenericID struct {
	Id      string      `json:"Id"`
	SchmeNm *SchemeName `json:"SchmeNm,omitempty"`
}

// SchemeName names a proprietary identification scheme.
type SchemeName struct {
	Prtry string `json:"Prtry"`
}

// Agent is a financial institution.
type Agent struct {
	FinInstnId FinancialInstitution `json:"FinInstnId"`
}

// FinancialInstitution identifies an agent by clearing system member id.
type FinancialInstitution struct {
	ClrSysMmbId ClearingMember `json:"ClrSysMmbId"`
}

// ClearingMember is a clearing system member identifier.
type ClearingMember struct {
	MmbId string `json:"MmbId"`
}

// Remittance is unstructured remittance information.
type Remittance struct {
	Ustrd string `json:"Ustrd,omitempty"`
}

// Transactions accepts CdtTrfTxInf as an object or an array and writes a
// single transaction as an object.
type Transactions []CreditTransferTx

// UnmarshalJSON decodes an object or an array of objects.
func (t *Transactions) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = nil
		return nil
	}
	if data[0] == '[' {
		var list []CreditTransferTx
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*t = list
		return nil
	}
	var one CreditTransferTx
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*t = Transactions{one}
	return nil
}

// MarshalJSON writes one transaction as an object and several as an array.
func (t Transactions) MarshalJSON() ([]byte, error) {
	if len(t) == 1 {
		return json.Marshal(t[0])
	}
	return json.Marshal([]CreditTransferTx(t))
}

// NewPacs008 builds the credit transfer for a transaction spec.
func NewPacs008(tx domain.TransactionSpec, currency, tenantID string, now time.Time) *Pacs008 {
	amt := ActiveAmount{Amt: Amount{Amt: tx.Amount, Ccy: currency}}
	instd := amt
	return &Pacs008{
		TenantID: tenantID,
		FIToFICstmrCdtTrf: CreditTransfer{
			GrpHdr: GroupHeader{
				MsgId:    tx.MessageID,
				CreDtTm:  now.UTC().Format(time.RFC3339Nano),
				NbOfTxs:  1,
				SttlmInf: &SettlementInfo{SttlmMtd: "CLRG"},
			},
			CdtTrfTxInf: Transactions{{
				PmtId:          PaymentID{InstrId: tx.MessageID, EndToEndId: tx.EndToEndID},
				IntrBkSttlmAmt: amt,
				InstdAmt:       &instd,
				ChrgBr:         "DEBT",
				Dbtr:           party(tx.DebtorName, tx.DebtorAccount),
				DbtrAcct:       account(tx.DebtorAccount, tx.DebtorName),
				DbtrAgt:        &Agent{FinInstnId: FinancialInstitution{ClrSysMmbId: ClearingMember{MmbId: "dfsp001"}}},
				CdtrAgt:        &Agent{FinInstnId: FinancialInstitution{ClrSysMmbId: ClearingMember{MmbId: "dfsp002"}}},
				Cdtr:           party(tx.CreditorName, tx.CreditorAccount),
				CdtrAcct:       account(tx.CreditorAccount, tx.CreditorName),
				RmtInf:         &Remittance{Ustrd: "verification transfer"},
			}},
		},
	}
}

func party(name, account string) Party {
	if name == "" {
		name = account
	}
	return Party{
		Nm: name,
		Id: &PartyID{PrvtId: PrivateID{Othr: []GenericID{{Id: account, SchmeNm: &SchemeName{Prtry: "TAZAMA_EID"}}}}},
	}
}

func account(id, name string) Account {
	return Account{
		Id: AccountID{Othr: []GenericID{{Id: id, SchmeNm: &SchemeName{Prtry: "MSISDN"}}}},
		Nm: name,
	}
}

// ParsePacs008 decodes a credit transfer and checks it carries one transaction.
func ParsePacs008(body []byte) (*Pacs008, error) {
	var p Pacs008
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(p.FIToFICstmrCdtTrf.CdtTrfTxInf) == 0 {
		return nil, fmt.Errorf("%w: CdtTrfTxInf is missing", ErrMalformed)
	}
	return &p, nil
}

// MessageID returns GrpHdr.MsgId.
func (p *Pacs008) MessageID() string {
	if p == nil {
		return ""
	}
	return p.FIToFICstmrCdtTrf.GrpHdr.MsgId
}

// Transaction returns the first transaction.
func (p *Pacs008) Transaction() (CreditTransferTx, bool) {
	if p == nil || len(p.FIToFICstmrCdtTrf.CdtTrfTxInf) == 0 {
		return CreditTransferTx{}, false
	}
	return p.FIToFICstmrCdtTrf.CdtTrfTxInf[0], true
}

// EndToEndID returns the first transaction's end-to-end id.
func (p *Pacs008) EndToEndID() string {
	tx, _ := p.Transaction()
	return tx.PmtId.EndToEndId
}

// DebtorAccount returns the debtor account of the first transaction, or UnknownAccount.
func (p *Pacs008) DebtorAccount() string {
	tx, _ := p.Transaction()
	if id, ok := tx.DbtrAcct.Id.Value(); ok {
		return id
	}
	return UnknownAccount
}

// CreditorAccount returns the creditor account of the first transaction, or UnknownAccount.
func (p *Pacs008) CreditorAccount() string {
	tx, _ := p.Transaction()
	if id, ok := tx.CdtrAcct.Id.Value(); ok {
		return id
	}
	return UnknownAccount
}

// Amount returns the interbank settlement amount of the first transaction.
func (p *Pacs008) Amount() decimal.Decimal {
	tx, _ := p.Transaction()
	return tx.IntrBkSttlmAmt.Amt.Amt
}

// Pacs002 is an FI to FI payment status report.
type Pacs002 struct {
	TenantID     string        `json:"TenantId,omitempty"`
	FIToFIPmtSts PaymentStatus `json:"FIToFIPmtSts"`
}

// PaymentStatus is the pacs.002 document body.
type PaymentStatus struct {
	GrpHdr            GroupHeader       `json:"GrpHdr"`
	OrgnlGrpInfAndSts OriginalGroup     `json:"OrgnlGrpInfAndSts"`
	TxInfAndSts       TransactionStatus `json:"TxInfAndSts"`
}

// OriginalGroup references the message being reported on.
type OriginalGroup struct {
	OrgnlMsgId   string `json:"OrgnlMsgId"`
	OrgnlMsgNmId string `json:"OrgnlMsgNmId"`
}

// TransactionStatus carries the status of the original transaction.
type TransactionStatus struct {
	OrgnlInstrId    string `json:"OrgnlInstrId"`
	OrgnlEndToEndId string `json:"OrgnlEndToEndId"`
	TxSts           string `json:"TxSts"`
	AccptncDtTm     string `json:"AccptncDtTm,omitempty"`
}

// NewPacs002 builds a status report confirming the pair with status.
// Only ACCC, ACSC and RJCT are accepted.
func NewPacs002(messageID, endToEndID, status, reportID, tenantID string, now time.Time) (*Pacs002, error) {
	if !domain.ValidConfirmationStatus(status) {
		return nil, domain.NewValidationError("status_code",
			fmt.Sprintf("must be one of %s, %s, %s", domain.StatusAccepted, domain.StatusSettled, domain.StatusRejected), nil)
	}
	if messageID == "" || endToEndID == "" {
		return nil, domain.NewValidationError("message_id", "message id and end-to-end id are required", nil)
	}
	ts := now.UTC().Format(time.RFC3339Nano)
	return &Pacs002{
		TenantID: tenantID,
		FIToFIPmtSts: PaymentStatus{
			GrpHdr: GroupHeader{MsgId: reportID, CreDtTm: ts},
			OrgnlGrpInfAndSts: OriginalGroup{
				OrgnlMsgId:   messageID,
				OrgnlMsgNmId: MessageTypePacs008,
			},
			TxInfAndSts: TransactionStatus{
				OrgnlInstrId:    messageID,
				OrgnlEndToEndId: endToEndID,
				TxSts:           status,
				AccptncDtTm:     ts,
			},
		},
	}, nil
}

// ParsePacs002 decodes a status report.
func ParsePacs002(body []byte) (*Pacs002, error) {
	var p Pacs002
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &p, nil
}

// OriginalMessageID returns the id of the confirmed pacs.008, preferring
// the group reference over the instruction id.
func (p *Pacs002) OriginalMessageID() string {
	if p == nil {
		return ""
	}
	if id := p.FIToFIPmtSts.OrgnlGrpInfAndSts.OrgnlMsgId; id != "" {
		return id
	}
	return p.FIToFIPmtSts.TxInfAndSts.OrgnlInstrId
}

// OriginalEndToEndID returns the confirmed end-to-end id.
func (p *Pacs002) OriginalEndToEndID() string {
	if p == nil {
		return ""
	}
	return p.FIToFIPmtSts.TxInfAndSts.OrgnlEndToEndId
}

// Status returns TxSts.
func (p *Pacs002) Status() string {
	if p == nil {
		return ""
	}
	return p.FIToFIPmtSts.TxInfAndSts.TxSts
}
