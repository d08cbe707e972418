// gatehouse-simulator imitates a vendor access-control terminal: the same
// wire protocol the server's door client speaks, backed by the same
// in-memory door used in tests.  Point a door declaration at it to run the
// full system without hardware.
//
// Extra endpoints under /simulator/ let tests and humans swipe cards and
// inspect state directly.
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gatehouse/server/internal/door"
)

const wireTimeLayout = "2006-01-02T15:04:05-07:00"

type simulator struct {
	door   *door.MemoryDoor
	logger *log.Logger
}

func main() {
	addr := os.Getenv("SIMULATOR_ADDR")
	if addr == "" {
		addr = ":3331"
	}
	name := os.Getenv("SIMULATOR_DOOR_NAME")
	if name == "" {
		name = "simulated-door"
	}

	logger := log.New(os.Stdout, "gatehouse-simulator ", log.LstdFlags|log.LUTC)
	sim := &simulator{door: door.NewMemoryDoor(name), logger: logger}

	r := chi.NewRouter()
	r.Get("/", sim.handleOverview)
	r.Post("/simulator/access", sim.handleAccess)
	r.Get("/simulator/cards", sim.handleCards)
	r.Post("/ISAPI/AccessControl/CardInfo/Search", sim.handleSearch)
	r.Post("/ISAPI/AccessControl/CardInfo/Record", sim.handleRecord)
	r.Put("/ISAPI/AccessControl/CardInfo/Delete", sim.handleDelete)
	r.Post("/ISAPI/AccessControl/AcsEvent", sim.handleEvents)

	logger.Printf("simulated door %q listening on %s", name, addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Fatalf("serve: %v", err)
	}
}

func (s *simulator) handleOverview(w http.ResponseWriter, r *http.Request) {
	cards, _ := s.door.ListCards(r.Context())
	var b strings.Builder
	fmt.Fprintf(&b, "Simulated access-control terminal %q.\n\n", s.door.Name())
	fmt.Fprintf(&b, "Registered cards (%d):\n", len(cards))
	for _, c := range cards {
		fmt.Fprintf(&b, "  %s\n", c)
	}
	b.WriteString("\nPOST /simulator/access with {\"cardNo\": \"...\"} to swipe a card.\n")
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte(b.String()))
}

func (s *simulator) handleAccess(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CardNo string `json:"cardNo"`
	}
	if err := readJSON(r, &req); err != nil || req.CardNo == "" {
		http.Error(w, "cardNo required", http.StatusBadRequest)
		return
	}
	if !s.door.Present(req.CardNo, time.Now()) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "message": "Card not found"})
		return
	}
	s.logger.Printf("card %q presented", req.CardNo)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *simulator) handleCards(w http.ResponseWriter, r *http.Request) {
	cards, _ := s.door.ListCards(r.Context())
	out := make([]map[string]string, 0, len(cards))
	for _, c := range cards {
		out = append(out, map[string]string{"cardNo": c})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *simulator) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CardInfoSearchCond struct {
			SearchID string `json:"searchID"`
		} `json:"CardInfoSearchCond"`
	}
	if err := readJSON(r, &req); err != nil {
		http.Error(w, "bad search request", http.StatusBadRequest)
		return
	}

	cards, _ := s.door.ListCards(r.Context())
	infos := make([]map[string]string, 0, len(cards))
	for _, c := range cards {
		infos = append(infos, map[string]string{"cardNo": c})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"CardInfoSearch": map[string]any{
			"searchID":           req.CardInfoSearchCond.SearchID,
			"responseStatusStrg": "OK",
			"numOfMatches":       len(infos),
			"totalMatches":       len(infos),
			"CardInfo":           infos,
		},
	})
}

func (s *simulator) handleRecord(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CardInfo struct {
			CardNo string `json:"cardNo"`
		} `json:"CardInfo"`
	}
	if err := readJSON(r, &req); err != nil || req.CardInfo.CardNo == "" {
		http.Error(w, "bad card record", http.StatusBadRequest)
		return
	}
	if err := s.door.CreateCard(r.Context(), req.CardInfo.CardNo); err != nil {
		http.Error(w, fmt.Sprintf("cardNo %s already exists", req.CardInfo.CardNo), http.StatusConflict)
		return
	}
	s.logger.Printf("added card %q", req.CardInfo.CardNo)
	writeJSON(w, http.StatusOK, okStatus())
}

func (s *simulator) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CardInfoDelCond struct {
			CardNoList []struct {
				CardNo string `json:"cardNo"`
			} `json:"CardNoList"`
		} `json:"CardInfoDelCond"`
	}
	if err := readJSON(r, &req); err != nil {
		http.Error(w, "bad delete request", http.StatusBadRequest)
		return
	}
	for _, c := range req.CardInfoDelCond.CardNoList {
		// Deleting an absent card is success, like the hardware.
		_ = s.door.DeleteCard(r.Context(), c.CardNo)
		s.logger.Printf("deleted card %q", c.CardNo)
	}
	writeJSON(w, http.StatusOK, okStatus())
}

func (s *simulator) handleEvents(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AcsEventCond struct {
			SearchID  string `json:"searchID"`
			StartTime string `json:"startTime"`
			EndTime   string `json:"endTime"`
		} `json:"AcsEventCond"`
	}
	if err := readJSON(r, &req); err != nil {
		http.Error(w, "bad event search", http.StatusBadRequest)
		return
	}

	since, err1 := time.Parse(wireTimeLayout, req.AcsEventCond.StartTime)
	until, err2 := time.Parse(wireTimeLayout, req.AcsEventCond.EndTime)
	if err1 != nil || err2 != nil {
		http.Error(w, "bad time range", http.StatusBadRequest)
		return
	}

	events, _ := s.door.ListUsageEvents(r.Context(), since, until)
	infos := make([]map[string]string, 0, len(events))
	for _, e := range events {
		infos = append(infos, map[string]string{
			"cardNo": e.CardNo,
			"time":   e.OccurredAt.Format(wireTimeLayout),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"AcsEvent": map[string]any{
			"searchID":           req.AcsEventCond.SearchID,
			"responseStatusStrg": "OK",
			"numOfMatches":       len(infos),
			"totalMatches":       len(infos),
			"InfoList":           infos,
		},
	})
}

func okStatus() map[string]any {
	return map[string]any{
		"statusCode":    1,
		"statusString":  "OK",
		"subStatusCode": "ok",
	}
}
