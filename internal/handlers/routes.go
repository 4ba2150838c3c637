package handlers

import "github.com/go-chi/chi/v5"

func (h *DeadlineHandler) Register(r chi.Router) {
	r.Route("/labs/{labID}/deadlines", func(r chi.Router) {
		r.Get("/", h.GetLabDeadlines) // GET /labs/{labID}/deadlines
		r.Post("/", h.PostDeadline)   // POST /labs/{labID}/deadlines
	})

	r.Route("/deadlines/{id}", func(r chi.Router) {
		r.Get("/", h.GetDeadlineByID)       // GET /deadlines/{id}
		r.Patch("/", h.PatchDeadline)       // PATCH /deadlines/{id}
		r.Post("/status", h.PostStatus)     // POST /deadlines/{id}/status
		r.Get("/reminders", h.GetReminders) // GET /deadlines/{id}/reminders
	})

	r.Post("/admin/scheduler/tick", h.RunTick)
	r.Get("/health", h.HealthCheck)
}
