package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hackgods/medical-appointment-scheduling/internal/appointment"
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func (h *handlers) availableSlots(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := uuidParam(w, r, "doctorID")
	if !ok {
		return
	}
	q := r.URL.Query()
	date, err := parseDate(q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}
	minutes := 0
	if v := q.Get("duration_minutes"); v != "" {
		minutes, err = strconv.Atoi(v)
		if err != nil || minutes <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_duration", "duration_minutes must be a positive integer")
			return
		}
	}

	slots, err := h.svc.AvailableSlots(r.Context(), doctorID, date, time.Duration(minutes)*time.Minute)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if slots == nil {
		slots = []time.Time{}
	}

	writeJSON(w, http.StatusOK, SlotsResponse{
		DoctorID:        doctorID,
		Date:            date.Format(time.DateOnly),
		DurationMinutes: minutes,
		Slots:           slots,
	})
}

func (h *handlers) listAvailability(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := uuidParam(w, r, "doctorID")
	if !ok {
		return
	}

	rules, err := h.svc.ListAvailability(r.Context(), doctorID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := make([]AvailabilityResponse, 0, len(rules))
	for _, rule := range rules {
		resp = append(resp, toAvailabilityResponse(rule))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) addAvailability(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := uuidParam(w, r, "doctorID")
	if !ok {
		return
	}

	var req AvailabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	day, ok := weekdays[strings.ToLower(req.DayOfWeek)]
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_day_of_week", "day_of_week must be a weekday name")
		return
	}
	start, err := appointment.ParseTimeOfDay(req.StartTime)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	end, err := parseEndOfRule(req.EndTime)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	actor, _ := ActorFrom(r.Context())

	rule, err := h.svc.AddAvailability(r.Context(), doctorID, day, start, end, actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAvailabilityResponse(*rule))
}

// parseEndOfRule also accepts "24:00" as the end of the day.
func parseEndOfRule(s string) (appointment.TimeOfDay, error) {
	if s == "24:00" {
		return appointment.NewTimeOfDay(24, 0), nil
	}
	return appointment.ParseTimeOfDay(s)
}

func (h *handlers) deleteAvailability(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	actor, _ := ActorFrom(r.Context())

	if err := h.svc.DeleteAvailability(r.Context(), id, actor); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listUnavailability(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := uuidParam(w, r, "doctorID")
	if !ok {
		return
	}
	q := r.URL.Query()
	from, err := time.Parse(time.RFC3339, q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_from", "from must be RFC 3339")
		return
	}
	to, err := time.Parse(time.RFC3339, q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_to", "to must be RFC 3339")
		return
	}

	blocks, err := h.svc.ListUnavailability(r.Context(), doctorID, from, to)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := make([]UnavailabilityResponse, 0, len(blocks))
	for _, b := range blocks {
		resp = append(resp, toUnavailabilityResponse(b))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) addUnavailability(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := uuidParam(w, r, "doctorID")
	if !ok {
		return
	}

	var req UnavailabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	actor, _ := ActorFrom(r.Context())

	block, err := h.svc.AddUnavailability(r.Context(), doctorID, req.StartTime, req.EndTime, req.Reason, actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUnavailabilityResponse(*block))
}

func (h *handlers) deleteUnavailability(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	actor, _ := ActorFrom(r.Context())

	if err := h.svc.DeleteUnavailability(r.Context(), id, actor); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) joinWaitlist(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := uuidParam(w, r, "doctorID")
	if !ok {
		return
	}
	actor, _ := ActorFrom(r.Context())
	if actor.Role != appointment.RolePatient {
		writeError(w, http.StatusForbidden, "access_denied", "only patients can join a waitlist")
		return
	}

	var req WaitlistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}

	entry, err := h.svc.JoinWaitlist(r.Context(), actor.ID, doctorID, date)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWaitlistEntryResponse(*entry))
}

func (h *handlers) listWaitlist(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := uuidParam(w, r, "doctorID")
	if !ok {
		return
	}
	actor, _ := ActorFrom(r.Context())
	if actor.Role != appointment.RoleDoctor || actor.ID != doctorID {
		writeError(w, http.StatusForbidden, "access_denied", "only the doctor can view this waitlist")
		return
	}
	date, err := parseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}

	entries, err := h.svc.ListWaitlist(r.Context(), doctorID, date)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := make([]WaitlistEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, toWaitlistEntryResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) leaveWaitlist(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	actor, _ := ActorFrom(r.Context())

	if err := h.svc.LeaveWaitlist(r.Context(), id, actor); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
