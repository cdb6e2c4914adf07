package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/hamed0406/proxychecker/internal/domain"
	"github.com/hamed0406/proxychecker/internal/probe"
	"github.com/hamed0406/proxychecker/internal/repo"
)

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	ts, err := s.Targets.List(r.Context())
	if err != nil {
		s.fail(w, "list_targets", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(ts))
}

func (s *Server) handleListByKind(kind domain.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ts, err := s.Targets.ListByKind(r.Context(), kind)
		if err != nil {
			s.fail(w, "list_targets", err)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(ts))
	}
}

func (s *Server) handleGetTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := targetID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad target id")
		return
	}
	t, err := s.Targets.Get(r.Context(), id)
	if err != nil {
		s.fail(w, "get_target", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleCreateTarget(w http.ResponseWriter, r *http.Request) {
	var in domain.TargetInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	t, err := s.Targets.Create(r.Context(), in)
	if err != nil {
		s.fail(w, "create_target", err)
		return
	}
	s.Tasks.Start(t)

	s.Logger.Info("target_created",
		zap.Int64("target_id", int64(t.ID)),
		zap.String("type", string(t.Kind)),
		zap.String("host", t.Host),
		zap.Int("port", t.Port),
	)
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleUpdateTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := targetID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad target id")
		return
	}
	var p domain.TargetPatch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	t, err := s.Targets.Update(r.Context(), id, p)
	if err != nil {
		s.fail(w, "update_target", err)
		return
	}
	s.Tasks.Start(t)

	s.Logger.Info("target_updated", zap.Int64("target_id", int64(t.ID)), zap.Int("interval", t.Interval))
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := targetID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad target id")
		return
	}
	if _, err := s.Targets.Get(r.Context(), id); err != nil {
		s.fail(w, "delete_target", err)
		return
	}
	// stop the loop first so nothing is appended after the history is gone
	s.Tasks.Cancel(id)
	if err := s.Targets.Delete(r.Context(), id); err != nil {
		s.fail(w, "delete_target", err)
		return
	}
	s.Logger.Info("target_deleted", zap.Int64("target_id", int64(id)))
	w.WriteHeader(http.StatusNoContent)
}

type statusResponse struct {
	Target      domain.Target        `json:"target"`
	Latest      *domain.ProbeResult  `json:"latest"`
	History     []domain.ProbeResult `json:"history"`
	TaskRunning bool                 `json:"task_running"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := targetID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad target id")
		return
	}
	t, err := s.Targets.Get(r.Context(), id)
	if err != nil {
		s.fail(w, "status", err)
		return
	}
	hist, err := s.History.Recent(r.Context(), id, repo.HistoryCap)
	if err != nil {
		s.fail(w, "status", err)
		return
	}
	resp := statusResponse{
		Target:      t,
		History:     nonNil(hist),
		TaskRunning: s.Tasks.IsRunning(id),
	}
	if len(hist) > 0 {
		resp.Latest = &hist[0]
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := targetID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad target id")
		return
	}
	limit := repo.HistoryCap
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if _, err := s.Targets.Get(r.Context(), id); err != nil {
		s.fail(w, "history", err)
		return
	}
	hist, err := s.History.Recent(r.Context(), id, limit)
	if err != nil {
		s.fail(w, "history", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(hist))
}

type checkPayload struct {
	Type    string `json:"type"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Scheme  string `json:"scheme"`
	Path    string `json:"path"`
	TestURL string `json:"test_url"`
}

type dnsView struct {
	Domain        string   `json:"domain"`
	Class         string   `json:"class"`
	IPs           []string `json:"ips,omitempty"`
	CNAME         string   `json:"cname,omitempty"`
	Nameservers   []string `json:"nameservers,omitempty"`
	ResolverError string   `json:"resolver_error,omitempty"`
}

type checkResponse struct {
	Result domain.ProbeResult `json:"result"`
	DNS    *dnsView           `json:"dns,omitempty"`
}

// handleCheck runs one probe synchronously. Probe failures are reported in
// the body with status 200; only a malformed payload is a client error.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var p checkPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	if p.Host == "" {
		writeError(w, http.StatusBadRequest, "host is required")
		return
	}
	if p.Port == 0 {
		if kind, err := domain.ParseKind(p.Type); err == nil {
			p.Port = kind.DefaultPort()
		}
	}

	res := s.Prober.Probe(r.Context(), probe.Request{
		Kind:    p.Type,
		Host:    p.Host,
		Port:    p.Port,
		Scheme:  p.Scheme,
		Path:    p.Path,
		TestURL: p.TestURL,
		Timeout: probe.Timeout,
	})
	resp := checkResponse{Result: res}

	// If the HTTP check fails, explain it from DNS
	if !res.OK() && res.Kind == domain.KindHTTP && s.DNS != nil {
		st := s.DNS.Diagnose(r.Context(), p.Host)
		v := &dnsView{
			Domain:        st.Domain,
			Class:         st.Class,
			CNAME:         st.CNAME,
			Nameservers:   st.Nameservers,
			ResolverError: st.ResolverError,
		}
		for _, ip := range st.IPs {
			v.IPs = append(v.IPs, ip.String())
		}
		resp.DNS = v

		s.Logger.Info("dns_check",
			zap.String("domain", st.Domain),
			zap.String("class", st.Class),
			zap.Bool("has_a_or_aaaa", st.HasAOrAAAA),
			zap.Strings("nameservers", st.Nameservers),
			zap.String("cname", st.CNAME),
			zap.String("resolver_error", st.ResolverError),
		)
	}

	s.Logger.Info("on_demand_check",
		zap.String("type", p.Type),
		zap.String("host", p.Host),
		zap.Bool("success", res.OK()),
		zap.String("result", probe.Describe(res)),
	)
	writeJSON(w, http.StatusOK, resp)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
