package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"zigbee-go-bulb/internal/bulb"
	"zigbee-go-bulb/internal/zcl"
	"zigbee-go-bulb/internal/zstack"
)

func (s *Server) handleAPINetworkInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.client.Stack().NetworkInfo())
}

func (s *Server) handleAPIListClusters(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.client.Stack().Attributes().Registry().All())
}

func (s *Server) handleAPIListEndpoints(w http.ResponseWriter, r *http.Request) {
	states, err := s.device.States(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, states)
}

type endpointView struct {
	State      bulb.State      `json:"state"`
	Clusters   []uint16        `json:"clusters"`
	Attributes []zstack.Change `json:"attributes"`
}

func (s *Server) handleAPIGetEndpoint(w http.ResponseWriter, r *http.Request) {
	ep, ok := s.endpoint(w, r)
	if !ok {
		return
	}
	st, found, err := s.device.State(r.Context(), ep)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !found {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "endpoint not found"})
		return
	}
	attrs := s.client.Stack().Attributes()
	s.writeJSON(w, http.StatusOK, endpointView{
		State:      st,
		Clusters:   attrs.Clusters(ep),
		Attributes: attrs.Values(ep),
	})
}

func (s *Server) handleAPIOn(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, func(ctx context.Context, ep uint8) error { return s.client.On(ctx, ep) })
}

func (s *Server) handleAPIOff(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, func(ctx context.Context, ep uint8) error { return s.client.Off(ctx, ep) })
}

func (s *Server) handleAPIToggle(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, func(ctx context.Context, ep uint8) error { return s.client.Toggle(ctx, ep) })
}

type setLevelRequest struct {
	Level *int `json:"level"`
}

func (s *Server) handleAPISetLevel(w http.ResponseWriter, r *http.Request) {
	var req setLevelRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Level == nil || *req.Level < 0 || *req.Level > 255 {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "level must be 0-255"})
		return
	}
	level := uint8(*req.Level)
	s.command(w, r, func(ctx context.Context, ep uint8) error { return s.client.SetLevel(ctx, ep, level) })
}

type stepRequest struct {
	Up   bool  `json:"up"`
	Size uint8 `json:"size"`
}

func (s *Server) handleAPIStep(w http.ResponseWriter, r *http.Request) {
	var req stepRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.command(w, r, func(ctx context.Context, ep uint8) error { return s.client.Step(ctx, ep, req.Up, req.Size) })
}

type identifyRequest struct {
	Seconds uint16 `json:"seconds"`
}

func (s *Server) handleAPIIdentify(w http.ResponseWriter, r *http.Request) {
	var req identifyRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.command(w, r, func(ctx context.Context, ep uint8) error { return s.client.Identify(ctx, ep, req.Seconds) })
}

func (s *Server) handleAPIIdentifyQuery(w http.ResponseWriter, r *http.Request) {
	ep, ok := s.endpoint(w, r)
	if !ok {
		return
	}
	remaining, err := s.client.IdentifyQuery(r.Context(), ep)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"endpoint": ep, "identify_time": remaining})
}

type effectRequest struct {
	Effect  string `json:"effect"`
	Variant uint8  `json:"variant"`
}

func (s *Server) handleAPIEffect(w http.ResponseWriter, r *http.Request) {
	var req effectRequest
	if !s.decode(w, r, &req) {
		return
	}
	effect, err := bulb.ParseEffect(req.Effect)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.command(w, r, func(ctx context.Context, ep uint8) error {
		return s.client.TriggerEffect(ctx, ep, effect, req.Variant)
	})
}

type readAttributesRequest struct {
	ClusterID uint16   `json:"cluster_id"`
	AttrIDs   []uint16 `json:"attr_ids"`
}

func (s *Server) handleAPIReadAttributes(w http.ResponseWriter, r *http.Request) {
	ep, ok := s.endpoint(w, r)
	if !ok {
		return
	}
	var req readAttributesRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.AttrIDs) == 0 {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "attr_ids must not be empty"})
		return
	}
	if len(req.AttrIDs) > 50 {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "attr_ids limited to 50"})
		return
	}

	results, err := s.client.ReadAttributes(r.Context(), ep, req.ClusterID, req.AttrIDs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, results)
}

type writeAttributeRequest struct {
	ClusterID uint16      `json:"cluster_id"`
	AttrID    uint16      `json:"attr_id"`
	Value     interface{} `json:"value"`
}

func (s *Server) handleAPIWriteAttribute(w http.ResponseWriter, r *http.Request) {
	var req writeAttributeRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.command(w, r, func(ctx context.Context, ep uint8) error {
		return s.client.WriteAttribute(ctx, ep, req.ClusterID, req.AttrID, req.Value)
	})
}

type sendCommandRequest struct {
	ClusterID uint16 `json:"cluster_id"`
	CommandID uint8  `json:"command_id"`
	Payload   []byte `json:"payload,omitempty"`
}

func (s *Server) handleAPISendCommand(w http.ResponseWriter, r *http.Request) {
	var req sendCommandRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Payload) > 128 {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "payload limited to 128 bytes"})
		return
	}
	s.command(w, r, func(ctx context.Context, ep uint8) error {
		return s.client.SendClusterCommand(ctx, ep, req.ClusterID, req.CommandID, req.Payload)
	})
}

func (s *Server) handleAPIPressButton(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.PathValue("event"))
	if err != nil || n < 0 || n > 255 {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid button event"})
		return
	}
	s.device.PressButton(bulb.ButtonEvent(n))
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{"status": "queued", "event": n})
}

// commandResponse answers a command with its ZCL status and the endpoint
// state right after it ran.
type commandResponse struct {
	Status string      `json:"status"`
	State  *bulb.State `json:"state,omitempty"`
}

func (s *Server) command(w http.ResponseWriter, r *http.Request, send func(context.Context, uint8) error) {
	ep, ok := s.endpoint(w, r)
	if !ok {
		return
	}
	if err := send(r.Context(), ep); err != nil {
		s.writeError(w, err)
		return
	}
	resp := commandResponse{Status: zcl.StatusSuccess.String()}
	if st, found, err := s.device.State(r.Context(), ep); err == nil && found {
		resp.State = &st
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) endpoint(w http.ResponseWriter, r *http.Request) (uint8, bool) {
	n, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || n < 1 || n > 240 {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "endpoint must be 1-240"})
		return 0, false
	}
	return uint8(n), true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

// httpStatus maps command errors: identify gating is a conflict, unserved
// clusters and attributes are not found, other ZCL statuses are the
// client's fault.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled),
		errors.Is(err, zstack.ErrQueueClosed), errors.Is(err, bulb.ErrStopped):
		return http.StatusServiceUnavailable
	}
	var se *zcl.StatusError
	if !errors.As(err, &se) {
		return http.StatusInternalServerError
	}
	switch se.Status {
	case zcl.StatusActionDenied:
		return http.StatusConflict
	case zcl.StatusUnsupportedCluster, zcl.StatusUnsupportedAttr:
		return http.StatusNotFound
	case zcl.StatusFailure, zcl.StatusHardwareFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := httpStatus(err)
	reqID := w.Header().Get("X-Request-ID")
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", "err", err, "request_id", reqID)
	} else {
		s.logger.Info("request rejected", "err", err, "request_id", reqID)
	}
	s.writeJSON(w, code, map[string]string{
		"error":      err.Error(),
		"status":     zcl.StatusFromError(err).String(),
		"request_id": reqID,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
