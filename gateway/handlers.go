package gateway

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"ledgersync/core/balances"
	"ledgersync/core/chain"
	"ledgersync/core/registry"
	"ledgersync/core/versions"
)

// VersionQueries is the read contract of the protocol version catalogue.
type VersionQueries interface {
	Latest() (versions.ProtocolVersion, bool)
	ValidAtSlot(slot uint64) (versions.ProtocolVersion, bool)
	ByTxHash(txHash string) (versions.ProtocolVersion, bool)
	BySlot(slot uint64) (versions.ProtocolVersion, bool)
	All() []versions.ProtocolVersion
}

// RegistryQueries is the read contract of the token registry mirror.
type RegistryQueries interface {
	RegisteredTokens(versionTx string) []registry.NodeRecord
	AllNodes(versionTx string) []registry.NodeRecord
	IsRegistered(policyID string) bool
}

// CurrentBalances is the read contract of the balance ledger cache.
type CurrentBalances interface {
	CurrentBalance(address string) map[string]*big.Int
}

type versionResponse struct {
	TxHash             string `json:"txHash"`
	Slot               uint64 `json:"slot"`
	BlockHeight        uint64 `json:"blockHeight"`
	RegistryPolicyID   string `json:"registryPolicyId"`
	BaseCredentialHash string `json:"baseCredentialHash"`
}

func toVersionResponse(v versions.ProtocolVersion) versionResponse {
	return versionResponse{
		TxHash:             v.TxHash,
		Slot:               v.Slot,
		BlockHeight:        v.BlockHeight,
		RegistryPolicyID:   v.RegistryPolicyID,
		BaseCredentialHash: v.BaseCredentialHash,
	}
}

type nodeResponse struct {
	Key             string `json:"key"`
	Next            string `json:"next"`
	TransferLogic   string `json:"transferLogic"`
	ThirdPartyLogic string `json:"thirdPartyLogic"`
	ProtocolVersion string `json:"protocolVersion"`
	TxHash          string `json:"txHash"`
	Slot            uint64 `json:"slot"`
	BlockHeight     uint64 `json:"blockHeight"`
	Deleted         bool   `json:"deleted"`
}

func toNodeResponse(rec registry.NodeRecord) nodeResponse {
	return nodeResponse{
		Key:             rec.Key,
		Next:            rec.Next,
		TransferLogic:   rec.TransferLogic,
		ThirdPartyLogic: rec.ThirdPartyLogic,
		ProtocolVersion: rec.ProtocolVersionTx,
		TxHash:          rec.TxHash,
		Slot:            rec.Slot,
		BlockHeight:     rec.BlockHeight,
		Deleted:         rec.Deleted,
	}
}

type balanceRowResponse struct {
	Address           string            `json:"address"`
	PaymentCredential string            `json:"paymentCredential"`
	StakeCredential   string            `json:"stakeCredential,omitempty"`
	TxHash            string            `json:"txHash"`
	Slot              uint64            `json:"slot"`
	BlockHeight       uint64            `json:"blockHeight"`
	Snapshot          map[string]string `json:"snapshot"`
	Diff              map[string]string `json:"diff"`
	Kind              string            `json:"kind"`
}

func toBalanceRowResponse(row balances.Row) balanceRowResponse {
	return balanceRowResponse{
		Address:           row.Address,
		PaymentCredential: row.PaymentCredential,
		StakeCredential:   row.StakeCredential,
		TxHash:            row.TxHash,
		Slot:              row.Slot,
		BlockHeight:       row.BlockHeight,
		Snapshot:          renderAmounts(row.Snapshot),
		Diff:              renderAmounts(row.Diff),
		Kind:              string(row.Kind),
	}
}

func renderAmounts(m map[string]*big.Int) map[string]string {
	out := make(map[string]string, len(m))
	for unit, amount := range m {
		if amount == nil {
			continue
		}
		out[unit] = amount.String()
	}
	return out
}

func (s *Server) handleVersions(w http.ResponseWriter, _ *http.Request) {
	all := s.versions.All()
	out := make([]versionResponse, 0, len(all))
	for _, v := range all {
		out = append(out, toVersionResponse(v))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLatestVersion(w http.ResponseWriter, _ *http.Request) {
	v, ok := s.versions.Latest()
	if !ok {
		s.writeError(w, http.StatusNotFound, "no protocol version observed yet")
		return
	}
	s.writeJSON(w, http.StatusOK, toVersionResponse(v))
}

func (s *Server) handleVersionAtSlot(w http.ResponseWriter, r *http.Request) {
	slot, err := strconv.ParseUint(chi.URLParam(r, "slot"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid slot")
		return
	}
	v, ok := s.versions.ValidAtSlot(slot)
	if !ok {
		s.writeError(w, http.StatusNotFound, "no version valid at slot")
		return
	}
	s.writeJSON(w, http.StatusOK, toVersionResponse(v))
}

func (s *Server) handleVersionBySlot(w http.ResponseWriter, r *http.Request) {
	slot, err := strconv.ParseUint(chi.URLParam(r, "slot"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid slot")
		return
	}
	v, ok := s.versions.BySlot(slot)
	if !ok {
		s.writeError(w, http.StatusNotFound, "no version at slot")
		return
	}
	s.writeJSON(w, http.StatusOK, toVersionResponse(v))
}

func (s *Server) handleVersionByTxHash(w http.ResponseWriter, r *http.Request) {
	v, ok := s.versions.ByTxHash(chi.URLParam(r, "txHash"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown version transaction")
		return
	}
	s.writeJSON(w, http.StatusOK, toVersionResponse(v))
}

func (s *Server) handleRegisteredTokens(w http.ResponseWriter, r *http.Request) {
	recs := s.registry.RegisteredTokens(chi.URLParam(r, "versionTx"))
	out := make([]nodeResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toNodeResponse(rec))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAllNodes(w http.ResponseWriter, r *http.Request) {
	recs := s.registry.AllNodes(chi.URLParam(r, "versionTx"))
	out := make([]nodeResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toNodeResponse(rec))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleIsRegistered(w http.ResponseWriter, r *http.Request) {
	policyID := chi.URLParam(r, "policyID")
	s.writeJSON(w, http.StatusOK, map[string]bool{
		"registered": s.registry.IsRegistered(policyID),
	})
}

func (s *Server) handleCurrentBalance(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"address": address,
		"balance": renderAmounts(s.balances.CurrentBalance(address)),
	})
}

func (s *Server) handleBalanceHistory(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	rows, err := s.history.BalanceHistory(r.Context(), address, limit)
	if err != nil {
		s.log.Error("balance history", "address", address, "error", err)
		s.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	out := make([]balanceRowResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, toBalanceRowResponse(row))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBalancesByTransaction(w http.ResponseWriter, r *http.Request) {
	txHash := chi.URLParam(r, "txHash")
	rows, err := s.history.BalancesByTransaction(r.Context(), txHash)
	if err != nil {
		s.log.Error("balances by transaction", "txHash", txHash, "error", err)
		s.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	out := make([]balanceRowResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, toBalanceRowResponse(row))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleIngestBatch(w http.ResponseWriter, r *http.Request) {
	var batch chain.Batch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed batch")
		return
	}
	if err := s.sink.ProcessBatch(r.Context(), batch); err != nil {
		s.log.Error("process batch", "slot", batch.Slot, "error", err)
		s.writeError(w, http.StatusInternalServerError, "batch rejected")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]uint64{
		"slot":        batch.Slot,
		"blockHeight": batch.BlockHeight,
	})
}
