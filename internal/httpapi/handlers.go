package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"rulekeeper/internal/editor"
	"rulekeeper/internal/storage/model"
	"rulekeeper/internal/storage/repo"
	"rulekeeper/pkg/api"
	"rulekeeper/pkg/domain"
	"rulekeeper/pkg/rulespec"

	"github.com/go-chi/chi/v5"
)

// addRuleRequest 新建规则参数
type addRuleRequest struct {
	Priority  int                `json:"priority"`
	Condition rulespec.Condition `json:"condition"`
	Action    rulespec.Action    `json:"action"`
}

// snapshotRequest 保存快照参数
type snapshotRequest struct {
	Name string `json:"name"`
}

// removeResult 删除结果
type removeResult struct {
	Removed bool `json:"removed"`
}

// eventPage 同步事件分页结果
type eventPage struct {
	Events []model.SyncEventRecord `json:"events"`
	Total  int64                   `json:"total"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ok(w, s.svc.Status(r.Context()))
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	ok(w, s.svc.ListRules(r.Context()))
}

func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var req addRuleRequest
	if err := decode(r, &req); err != nil {
		s.badRequest(w, err.Error())
		return
	}
	rule, err := s.svc.AddRule(r.Context(), req.Condition, req.Action, req.Priority)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, api.OK(rule))
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id, valid := ruleID(r)
	if !valid {
		s.badRequest(w, "规则 ID 无效")
		return
	}
	rule, err := s.svc.GetRule(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	ok(w, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, valid := ruleID(r)
	if !valid {
		s.badRequest(w, "规则 ID 无效")
		return
	}
	var patch rulespec.RulePatch
	if err := decode(r, &patch); err != nil {
		s.badRequest(w, err.Error())
		return
	}
	rule, err := s.svc.UpdateRule(r.Context(), id, patch)
	if err != nil {
		s.fail(w, err)
		return
	}
	ok(w, rule)
}

func (s *Server) handleRemoveRule(w http.ResponseWriter, r *http.Request) {
	id, valid := ruleID(r)
	if !valid {
		s.badRequest(w, "规则 ID 无效")
		return
	}
	ok(w, removeResult{Removed: s.svc.RemoveRule(r.Context(), id)})
}

func (s *Server) handleApplyEdit(w http.ResponseWriter, r *http.Request) {
	id, valid := ruleID(r)
	if !valid {
		s.badRequest(w, "规则 ID 无效")
		return
	}
	body, err := readBody(r)
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	e, err := editor.Decode(body)
	if err != nil {
		s.fail(w, err)
		return
	}
	rule, err := s.svc.ApplyEdit(r.Context(), id, e)
	if err != nil {
		s.fail(w, err)
		return
	}
	ok(w, rule)
}

func (s *Server) handleCurrentEdit(w http.ResponseWriter, r *http.Request) {
	id, valid := ruleID(r)
	if !valid {
		s.badRequest(w, "规则 ID 无效")
		return
	}
	e, err := s.svc.CurrentEdit(r.Context(), id, editor.Kind(chi.URLParam(r, "kind")))
	if err != nil {
		s.fail(w, err)
		return
	}
	data, err := editor.Encode(e)
	if err != nil {
		s.fail(w, err)
		return
	}
	ok(w, json.RawMessage(data))
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	rules, err := s.svc.ImportRules(r.Context(), body)
	if err != nil {
		s.fail(w, err)
		return
	}
	ok(w, rules)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := rulespec.Format(r.URL.Query().Get("format"))
	data, err := s.svc.ExportRules(r.Context(), r.URL.Query().Get("name"), format)
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}

	contentType := "application/json; charset=utf-8"
	if format == rulespec.FormatYAML {
		contentType = "application/yaml; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req domain.MatchRequest
	if err := decode(r, &req); err != nil {
		s.badRequest(w, err.Error())
		return
	}
	if req.URL == "" {
		s.badRequest(w, "url 不能为空")
		return
	}
	ok(w, s.svc.Match(r.Context(), req))
}

func (s *Server) handleMatchStats(w http.ResponseWriter, r *http.Request) {
	ok(w, s.svc.MatchStats(r.Context()))
}

func (s *Server) handleResetMatchStats(w http.ResponseWriter, r *http.Request) {
	ok(w, s.svc.ResetMatchStats(r.Context()))
}

func (s *Server) handleSyncStates(w http.ResponseWriter, r *http.Request) {
	ok(w, s.svc.SyncStates(r.Context()))
}

func (s *Server) handleSyncEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	events, total, err := s.svc.QueryEvents(r.Context(), repo.QueryOptions{
		RuleID:    int(queryInt(r, "ruleId")),
		Status:    q.Get("status"),
		Op:        q.Get("op"),
		TraceID:   q.Get("traceId"),
		StartTime: queryInt(r, "start"),
		EndTime:   queryInt(r, "end"),
		Offset:    int(queryInt(r, "offset")),
		Limit:     int(queryInt(r, "limit")),
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	if events == nil {
		events = []model.SyncEventRecord{}
	}
	ok(w, eventPage{Events: events, Total: total})
}

// handleSyncEventStream 以 SSE 推送实时同步事件，直到客户端断开或服务关闭
func (s *Server) handleSyncEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		s.fail(w, fmt.Errorf("响应不支持流式输出"))
		return
	}
	events := s.svc.SubscribeEvents(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for evt := range events {
		data, err := json.Marshal(evt)
		if err != nil {
			s.log.Err(err, "序列化同步事件失败", "traceId", evt.TraceID)
			continue
		}
		if _, err := fmt.Fprintf(w, "event: sync\ndata: %s\n\n", data); err != nil {
			return
		}
		flusher.Flush()
	}
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.ListSnapshots(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	ok(w, list)
}

func (s *Server) handleSaveSnapshot(w http.ResponseWriter, r *http.Request) {
	var req snapshotRequest
	if err := decode(r, &req); err != nil {
		s.badRequest(w, err.Error())
		return
	}
	if req.Name == "" {
		s.badRequest(w, "快照名称不能为空")
		return
	}
	record, err := s.svc.SaveSnapshot(r.Context(), req.Name)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, api.OK(record))
}

func (s *Server) handleRestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	rules, err := s.svc.RestoreSnapshot(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.fail(w, err)
		return
	}
	ok(w, rules)
}

func (s *Server) handleDeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteSnapshot(r.Context(), chi.URLParam(r, "name")); err != nil {
		s.fail(w, err)
		return
	}
	ok(w, api.EmptyData{})
}
