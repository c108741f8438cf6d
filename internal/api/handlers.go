// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"time"

	"github.com/streamhib/restreamd/internal/stream"
)

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.manager.ActiveSessions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleInactiveSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.manager.InactiveSessions()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleDeleteAllInactive(w http.ResponseWriter, r *http.Request) {
	removed, err := s.manager.DeleteAllInactive(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": removed})
}

type startRequest struct {
	SessionName     string `json:"session_name"`
	Platform        string `json:"platform"`
	StreamKey       string `json:"stream_key"`
	VideoFile       string `json:"video_file"`
	DurationMinutes int    `json:"duration_minutes"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := s.manager.Start(r.Context(), stream.StartInput{
		SessionName:     req.SessionName,
		Platform:        req.Platform,
		StreamKey:       req.StreamKey,
		VideoFile:       req.VideoFile,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

type sessionIDRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req sessionIDRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.manager.Stop(r.Context(), req.SessionID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

type reactivateRequest struct {
	SessionID string `json:"session_id"`
	Platform  string `json:"platform,omitempty"`
}

func (s *Server) handleReactivate(w http.ResponseWriter, r *http.Request) {
	var req reactivateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := s.manager.Reactivate(r.Context(), req.SessionID, req.Platform)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	var req sessionIDRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.manager.Delete(r.Context(), req.SessionID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type editRequest struct {
	SessionID string `json:"session_id"`
	StreamKey string `json:"stream_key,omitempty"`
	VideoFile string `json:"video_file,omitempty"`
	Platform  string `json:"platform,omitempty"`
}

func (s *Server) handleEditSession(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := s.manager.Edit(r.Context(), req.SessionID, stream.EditInput{
		StreamKey: req.StreamKey,
		VideoFile: req.VideoFile,
		Platform:  req.Platform,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type scheduleRequest struct {
	SessionName     string     `json:"session_name"`
	Platform        string     `json:"platform"`
	StreamKey       string     `json:"stream_key"`
	VideoFile       string     `json:"video_file"`
	RecurrenceType  string     `json:"recurrence_type"`
	StartTime       *time.Time `json:"start_time,omitempty"`
	DurationMinutes int        `json:"duration_minutes,omitempty"`
	StartTimeOfDay  string     `json:"start_time_of_day,omitempty"`
	StopTimeOfDay   string     `json:"stop_time_of_day,omitempty"`
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	def, err := s.manager.Schedule(r.Context(), stream.ScheduleInput{
		SessionName:     req.SessionName,
		Platform:        req.Platform,
		StreamKey:       req.StreamKey,
		VideoFile:       req.VideoFile,
		Recurrence:      req.RecurrenceType,
		StartAt:         req.StartTime,
		DurationMinutes: req.DurationMinutes,
		StartOfDay:      req.StartTimeOfDay,
		StopOfDay:       req.StopTimeOfDay,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, def)
}

func (s *Server) handleScheduleList(w http.ResponseWriter, r *http.Request) {
	defs, err := s.manager.Schedules()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, defs)
}

type cancelScheduleRequest struct {
	DefinitionID string `json:"definition_id"`
}

func (s *Server) handleCancelSchedule(w http.ResponseWriter, r *http.Request) {
	var req cancelScheduleRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.manager.CancelSchedule(r.Context(), req.DefinitionID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleRecoveryStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.engine.Status(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleRecoveryManual(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.TriggerManual(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	status, err := s.engine.Status(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleVideoList(w http.ResponseWriter, r *http.Request) {
	names, err := s.videos.List()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleVideoUsage(w http.ResponseWriter, r *http.Request) {
	bytes, count, err := s.videos.Usage()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{
		"total_bytes": bytes,
		"file_count":  int64(count),
	})
}

type videoNameRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleVideoDelete(w http.ResponseWriter, r *http.Request) {
	var req videoNameRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.videos.Delete(req.Name); err != nil {
		writeError(w, r, err)
		return
	}
	s.broadcastVideos()
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleVideoDeleteAll(w http.ResponseWriter, r *http.Request) {
	count, err := s.videos.DeleteAll()
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.broadcastVideos()
	writeJSON(w, http.StatusOK, map[string]int{"deleted": count})
}

type videoDownloadRequest struct {
	FileID string `json:"file_id"`
}

func (s *Server) handleVideoDownload(w http.ResponseWriter, r *http.Request) {
	var req videoDownloadRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	name, err := s.videos.Download(r.Context(), req.FileID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.broadcastVideos()
	writeJSON(w, http.StatusOK, map[string]string{"name": name})
}

type videoRenameRequest struct {
	OldName string `json:"old_name"`
	NewName string `json:"new_name"`
}

func (s *Server) handleVideoRename(w http.ResponseWriter, r *http.Request) {
	var req videoRenameRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	newName, err := s.videos.Rename(req.OldName, req.NewName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.broadcastVideos()
	writeJSON(w, http.StatusOK, map[string]string{"name": newName})
}

func (s *Server) broadcastVideos() {
	if names, err := s.videos.List(); err == nil {
		s.manager.BroadcastVideos(names)
	}
}

func (s *Server) handleDomainGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.domain.Current()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type domainSetupRequest struct {
	DomainName string `json:"domain_name"`
	SSLEnabled bool   `json:"ssl_enabled"`
	Port       int    `json:"port"`
}

func (s *Server) handleDomainSetup(w http.ResponseWriter, r *http.Request) {
	var req domainSetupRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := s.domain.Setup(req.DomainName, req.SSLEnabled, req.Port)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDomainRemove(w http.ResponseWriter, r *http.Request) {
	if err := s.domain.Clear(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}
