// Command gcalauth runs the one-time OAuth2 consent flow and prints the
// refresh token the sync service needs in GOOGLE_REFRESH_TOKEN.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const calendarScope = "https://www.googleapis.com/auth/calendar"

func main() {
	clientID := flag.String("client-id", os.Getenv("GOOGLE_CLIENT_ID"), "OAuth2 client id")
	clientSecret := flag.String("client-secret", os.Getenv("GOOGLE_CLIENT_SECRET"), "OAuth2 client secret")
	listenAddr := flag.String("listen", "localhost:8089", "address for the local redirect listener")
	flag.Parse()

	if *clientID == "" || *clientSecret == "" {
		log.Fatal("client id and client secret are required (flags or GOOGLE_CLIENT_ID / GOOGLE_CLIENT_SECRET)")
	}

	conf := &oauth2.Config{
		ClientID:     *clientID,
		ClientSecret: *clientSecret,
		RedirectURL:  "http://" + *listenAddr + "/callback",
		Scopes:       []string{calendarScope},
		Endpoint:     google.Endpoint,
	}

	codeCh := make(chan string, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code parameter", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "Authorization received. You can close this window.")
		codeCh <- code
	})

	server := &http.Server{Addr: *listenAddr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Listener error: %v", err)
		}
	}()

	// AccessTypeOffline plus ApprovalForce makes Google return a refresh
	// token even when the app was authorized before.
	url := conf.AuthCodeURL("state", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Println("Open the following URL in your browser:")
	fmt.Println()
	fmt.Println("  " + url)
	fmt.Println()

	code := <-codeCh

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	token, err := conf.Exchange(ctx, code)
	if err != nil {
		log.Fatalf("Token exchange failed: %v", err)
	}
	if token.RefreshToken == "" {
		log.Fatal("No refresh token returned; revoke the app's access and try again")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	fmt.Println("Add this to your environment:")
	fmt.Println()
	fmt.Printf("  GOOGLE_REFRESH_TOKEN=%s\n", token.RefreshToken)
}
