package lcd

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/cosmdrop/faucet-node/chain"
)

// Amino message and key type identifiers.
const (
	typeMsgSend         = "cosmos-sdk/MsgSend"
	typeMsgExecute      = "wasm/MsgExecuteContract"
	typePubKeySecp256k1 = "tendermint/PubKeySecp256k1"
	broadcastModeSync   = "sync"
)

// aminoCoin is a coin with the base-unit amount rendered as a string.
// Field order matters: the sign doc is the exact JSON serialization.
type aminoCoin struct {
	Amount string `json:"amount"`
	Denom  string `json:"denom"`
}

type aminoFee struct {
	Amount []aminoCoin `json:"amount"`
	Gas    string      `json:"gas"`
}

type aminoMsg struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

type msgSendValue struct {
	Amount      []aminoCoin `json:"amount"`
	FromAddress string      `json:"from_address"`
	ToAddress   string      `json:"to_address"`
}

type msgExecuteValue struct {
	Contract string          `json:"contract"`
	Funds    []aminoCoin     `json:"funds"`
	Msg      json.RawMessage `json:"msg"`
	Sender   string          `json:"sender"`
}

// stdSignDoc is the canonical sign bytes layout: fields in alphabetical
// order, numbers as strings.
type stdSignDoc struct {
	AccountNumber string          `json:"account_number"`
	ChainID       string          `json:"chain_id"`
	Fee           aminoFee        `json:"fee"`
	Memo          string          `json:"memo"`
	Msgs          []aminoMsg      `json:"msgs"`
	Sequence      string          `json:"sequence"`
}

type stdSignature struct {
	PubKey    aminoMsg `json:"pub_key"`
	Signature string   `json:"signature"`
}

type stdTx struct {
	Msg        []aminoMsg     `json:"msg"`
	Fee        aminoFee       `json:"fee"`
	Signatures []stdSignature `json:"signatures"`
	Memo       string         `json:"memo"`
}

type broadcastReq struct {
	Tx   stdTx  `json:"tx"`
	Mode string `json:"mode"`
}

type broadcastResp struct {
	TxHash string `json:"txhash"`
	Code   uint32 `json:"code"`
	RawLog string `json:"raw_log"`
}

// BankSend implements chain.SigningClient.
func (c *Client) BankSend(ctx context.Context, to string, amount chain.Coin, fee chain.Fee) (string, error) {
	if c.key == nil {
		return "", fmt.Errorf("client has no signing key")
	}
	msg := aminoMsg{
		Type: typeMsgSend,
		Value: msgSendValue{
			Amount:      []aminoCoin{coinToAmino(amount)},
			FromAddress: c.key.Address,
			ToAddress:   to,
		},
	}
	return c.signAndBroadcast(ctx, []aminoMsg{msg}, fee)
}

// ExecuteContract implements chain.SigningClient.
func (c *Client) ExecuteContract(ctx context.Context, contract string, msg []byte, funds []chain.Coin, fee chain.Fee) (string, error) {
	if c.key == nil {
		return "", fmt.Errorf("client has no signing key")
	}
	aminoFunds := make([]aminoCoin, 0, len(funds))
	for _, f := range funds {
		aminoFunds = append(aminoFunds, coinToAmino(f))
	}
	execMsg := aminoMsg{
		Type: typeMsgExecute,
		Value: msgExecuteValue{
			Contract: contract,
			Funds:    aminoFunds,
			Msg:      json.RawMessage(msg),
			Sender:   c.key.Address,
		},
	}
	return c.signAndBroadcast(ctx, []aminoMsg{execMsg}, fee)
}

// signAndBroadcast assembles the sign doc for the current account sequence,
// signs it with the wallet key and posts the StdTx in sync mode. A non-zero
// broadcast code is returned as an error; the caller never sees a hash for
// a rejected transaction.
func (c *Client) signAndBroadcast(ctx context.Context, msgs []aminoMsg, fee chain.Fee) (string, error) {
	chainID, err := c.ChainID(ctx)
	if err != nil {
		return "", err
	}
	account, err := c.Account(ctx, c.key.Address)
	if err != nil {
		return "", err
	}
	aminoF := feeToAmino(fee)
	signDoc := stdSignDoc{
		AccountNumber: fmt.Sprintf("%d", account.Number),
		ChainID:       chainID,
		Fee:           aminoF,
		Memo:          "",
		Msgs:          msgs,
		Sequence:      fmt.Sprintf("%d", account.Sequence),
	}
	signBytes, err := json.Marshal(signDoc)
	if err != nil {
		return "", fmt.Errorf("marshal sign doc: %w", err)
	}
	signature := c.key.Sign(signBytes)

	tx := stdTx{
		Msg: msgs,
		Fee: aminoF,
		Signatures: []stdSignature{{
			PubKey: aminoMsg{
				Type:  typePubKeySecp256k1,
				Value: base64.StdEncoding.EncodeToString(c.key.PubKeyBytes()),
			},
			Signature: base64.StdEncoding.EncodeToString(signature),
		}},
		Memo: "",
	}

	var resp broadcastResp
	if err := c.post(ctx, broadcastPath, broadcastReq{Tx: tx, Mode: broadcastModeSync}, &resp); err != nil {
		return "", fmt.Errorf("broadcast tx: %w", err)
	}
	if resp.Code != 0 {
		return "", fmt.Errorf("broadcast rejected with code %d: %s", resp.Code, resp.RawLog)
	}
	return resp.TxHash, nil
}

func coinToAmino(c chain.Coin) aminoCoin {
	return aminoCoin{Amount: c.Amount.String(), Denom: c.Denom}
}

func feeToAmino(f chain.Fee) aminoFee {
	amount := make([]aminoCoin, 0, len(f.Amount))
	for _, c := range f.Amount {
		amount = append(amount, coinToAmino(c))
	}
	return aminoFee{Amount: amount, Gas: fmt.Sprintf("%d", f.GasLimit)}
}
