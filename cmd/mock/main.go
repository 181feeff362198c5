package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"autodelta/internal/bridge/touch"
	"autodelta/internal/bridge/vision"
	"autodelta/internal/config"
	"autodelta/internal/model"
)

func main() {
	addr := flag.String("addr", ":8765", "listen address")
	configPath := flag.String("config", "", "config.yaml to take market regions and target names from")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flag.Parse()

	cfg, err := loadMockConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	scr := newScreen(cfg, *seed)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           newMux(scr),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Printf("mock bridge listening on %s", *addr)
	log.Fatal(srv.ListenAndServe())
}

func loadMockConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Parse([]byte("{}"))
	}
	return config.Load(path)
}

func newMux(scr *screen) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, http.StatusOK, vision.Envelope[map[string]any]{Success: true, Data: map[string]any{"ok": true}})
	})

	mux.HandleFunc("/locate", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req vision.LocateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Target == "" {
			writeEnvelope(w, http.StatusBadRequest, vision.Envelope[vision.LocateResult]{Error: "bad request"})
			return
		}
		res := vision.LocateResult{}
		if p, ok := scr.locate(req.Target); ok {
			res = vision.LocateResult{Found: true, X: p.X, Y: p.Y, Score: 0.93}
		}
		writeEnvelope(w, http.StatusOK, vision.Envelope[vision.LocateResult]{Success: true, Data: res})
	})

	mux.HandleFunc("/ocr", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req vision.OCRRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeEnvelope(w, http.StatusBadRequest, vision.Envelope[vision.OCRResult]{Error: "bad request"})
			return
		}
		region := model.Region{X1: req.Region[0], Y1: req.Region[1], X2: req.Region[2], Y2: req.Region[3]}
		writeEnvelope(w, http.StatusOK, vision.Envelope[vision.OCRResult]{Success: true, Data: vision.OCRResult{Text: scr.ocr(region)}})
	})

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	mux.HandleFunc("/touch", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var f touch.Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			switch f.Action {
			case touch.ActionTap, touch.ActionUp:
				scr.tap(model.Point{X: f.X, Y: f.Y})
			}
			if err := conn.WriteJSON(touch.Ack{ID: f.ID, OK: true}); err != nil {
				return
			}
		}
	})
	return mux
}

func writeEnvelope(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
