package devnet

import (
	"net/http"
	"net/http/httptest"

	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/clarity"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type callReadRequest struct {
	Sender    string   `json:"sender" binding:"required"`
	Arguments []string `json:"arguments"`
}

type txResult struct {
	Hex  string `json:"hex"`
	Repr string `json:"repr"`
}

type contractCall struct {
	ContractID   string `json:"contract_id"`
	FunctionName string `json:"function_name"`
}

type txResponse struct {
	TxID         string       `json:"tx_id"`
	Status       string       `json:"tx_status"`
	SenderAddr   string       `json:"sender_address"`
	TxResult     *txResult    `json:"tx_result,omitempty"`
	ContractCall contractCall `json:"contract_call"`
}

// Handler serves the subset of the node API the gateway uses.
func (l *Ledger) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.POST("/v2/contracts/call-read/:address/:name/:function", l.handleCallRead)
	r.GET("/extended/v1/tx/:txid", l.handleTxStatus)
	return r
}

// Transport routes requests straight into Handler without a listener.
func (l *Ledger) Transport() http.RoundTripper {
	return handlerTransport{h: l.Handler()}
}

type handlerTransport struct{ h http.Handler }

func (t handlerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := req.Context().Err(); err != nil {
		return nil, err
	}
	rec := httptest.NewRecorder()
	t.h.ServeHTTP(rec, req)
	return rec.Result(), nil
}

func (l *Ledger) handleCallRead(c *gin.Context) {
	if c.Param("address") != l.deployer.String() || c.Param("name") != l.contractName {
		c.JSON(http.StatusNotFound, gin.H{"error": "contract not found"})
		return
	}
	var req callReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, _, err := clarity.DecodeAddress(req.Sender); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sender: " + err.Error()})
		return
	}
	args, err := decodeArgs(req.Arguments)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	v, err := l.ReadOnly(domain.Principal(req.Sender), c.Param("function"), args)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"okay": false, "cause": err.Error()})
		return
	}
	out, err := clarity.EncodeHex(v)
	if err != nil {
		l.log.Error("encoding devnet read-only result", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "encoding result"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"okay": true, "result": out})
}

func (l *Ledger) handleTxStatus(c *gin.Context) {
	tx, pending, found := l.poll(c.Param("txid"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
		return
	}

	resp := txResponse{
		TxID:       tx.id,
		SenderAddr: tx.sender.String(),
		ContractCall: contractCall{
			ContractID:   l.deployer.String() + "." + l.contractName,
			FunctionName: tx.function,
		},
	}
	if pending {
		resp.Status = "pending"
		c.JSON(http.StatusOK, resp)
		return
	}

	h, err := clarity.EncodeHex(tx.result)
	if err != nil {
		l.log.Error("encoding devnet tx result", zap.String("tx_id", tx.id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "encoding result"})
		return
	}
	resp.TxResult = &txResult{Hex: h, Repr: clarity.Repr(tx.result)}
	resp.Status = "success"
	if _, rejected := tx.result.(clarity.ResponseErr); rejected {
		resp.Status = "abort_by_response"
	}
	c.JSON(http.StatusOK, resp)
}
