package server

import (
	"fmt"
	"net/http"

	"netforge/internal/handler"
	"netforge/internal/service"
	"netforge/pkg/model"
	"netforge/pkg/rulespec"
	"netforge/pkg/traffic"
)

const defaultListLimit = 100

// ---- 捕获 ----

func (s *Server) handleListCaptures(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Captures(queryLimit(r, defaultListLimit)))
}

func (s *Server) handleCaptureStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.CaptureStats())
}

func (s *Server) handleGetCapture(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	e, err := s.svc.Capture(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

type ingestRequestReply struct {
	ID      uint64          `json:"id"`
	Outcome handler.Outcome `json:"outcome"`
	Request traffic.Request `json:"request"`
}

func (s *Server) handleIngestRequest(w http.ResponseWriter, r *http.Request) {
	var req traffic.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Method == "" || req.URL == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "method and url are required"})
		return
	}
	fwd, id, outcome := s.svc.IngestRequest(req)
	writeJSON(w, http.StatusCreated, ingestRequestReply{ID: id, Outcome: outcome, Request: fwd})
}

type ingestResponseReply struct {
	Outcome  handler.Outcome  `json:"outcome"`
	Response traffic.Response `json:"response"`
}

func (s *Server) handleIngestResponse(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := traffic.NewResponse()
	if err := decodeJSON(r, &resp); err != nil {
		writeError(w, err)
		return
	}
	final, outcome, err := s.svc.IngestResponse(id, resp)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ingestResponseReply{Outcome: outcome, Response: final})
}

// ---- 规则 ----

type rulesReply struct {
	Rules  []rulespec.Rule   `json:"rules"`
	States []model.RuleState `json:"states"`
	Stats  model.EngineStats `json:"stats"`
}

func (s *Server) handleGetRules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rulesReply{
		Rules:  s.svc.Rules(),
		States: s.svc.RuleStates(),
		Stats:  s.svc.RuleStats(),
	})
}

type diagnosticsReply struct {
	Loaded      int                    `json:"loaded"`
	Diagnostics []model.RuleDiagnostic `json:"diagnostics"`
}

func (s *Server) handleLoadRules(w http.ResponseWriter, r *http.Request) {
	b, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rs, err := rulespec.Parse(b)
	if err != nil {
		writeError(w, err)
		return
	}
	diags := s.svc.LoadRules(rs)
	if diags == nil {
		diags = []model.RuleDiagnostic{}
	}
	writeJSON(w, http.StatusOK, diagnosticsReply{Loaded: len(rs.Rules), Diagnostics: diags})
}

type activeBody struct {
	Active bool `json:"active"`
}

func (s *Server) handleSetRuleActive(w http.ResponseWriter, r *http.Request) {
	var body activeBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := s.svc.SetRuleActive(r.Context(), rulespec.RuleID(r.PathValue("id")), body.Active); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRuleSets(w http.ResponseWriter, r *http.Request) {
	recs, err := s.svc.RuleSets(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	type item struct {
		Name      string `json:"name"`
		Active    bool   `json:"active"`
		UpdatedAt int64  `json:"updated_at_ms"`
	}
	out := make([]item, 0, len(recs))
	for _, rec := range recs {
		out = append(out, item{Name: rec.Name, Active: rec.Active, UpdatedAt: rec.UpdatedAt.UnixMilli()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSaveRuleSet(w http.ResponseWriter, r *http.Request) {
	b, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rs, err := rulespec.Parse(b)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.svc.SaveRuleSet(r.Context(), r.PathValue("name"), rs); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActivateRuleSet(w http.ResponseWriter, r *http.Request) {
	diags, err := s.svc.ActivateRuleSet(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	if diags == nil {
		diags = []model.RuleDiagnostic{}
	}
	writeJSON(w, http.StatusOK, diagnosticsReply{Loaded: len(s.svc.Rules()), Diagnostics: diags})
}

type settingBody struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	v, ok, err := s.svc.Setting(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, fmt.Errorf("setting %q: %w", key, service.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, settingBody{Key: key, Value: v})
}

func (s *Server) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	var body settingBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	body.Key = r.PathValue("key")
	if err := s.svc.SetSetting(r.Context(), body.Key, body.Value); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

// ---- 重放 ----

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var ov model.ReplayOverrides
	if err := decodeJSON(r, &ov); err != nil {
		writeError(w, err)
		return
	}
	// 失败也以结果形式返回，错误信息在 error 字段
	writeJSON(w, http.StatusOK, s.svc.Replay(r.Context(), id, ov))
}

// ---- 攻击 ----

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req model.IntruderGenerateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	out, err := s.svc.GenerateIntruder(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListCampaigns(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Campaigns())
}

func (s *Server) handleStartCampaign(w http.ResponseWriter, r *http.Request) {
	var req model.CampaignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := s.svc.StartCampaign(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, p)
}

func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.Campaign(model.CampaignID(r.PathValue("id")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleCampaignResults(w http.ResponseWriter, r *http.Request) {
	results, err := s.svc.CampaignResults(model.CampaignID(r.PathValue("id")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleCancelCampaign(w http.ResponseWriter, r *http.Request) {
	id := model.CampaignID(r.PathValue("id"))
	if err := s.svc.CancelCampaign(id); err != nil {
		writeError(w, err)
		return
	}
	p, err := s.svc.Campaign(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteCampaign(model.CampaignID(r.PathValue("id"))); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCampaignHistory(w http.ResponseWriter, r *http.Request) {
	recs, err := s.svc.CampaignHistory(r.Context(), queryLimit(r, 50))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}
