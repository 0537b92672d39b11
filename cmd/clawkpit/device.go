package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/clawkpit/internal/config"
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Pair this machine with an account",
}

type startResponse struct {
	DisplayCode string    `json:"display_code"`
	DeviceCode  string    `json:"device_code"`
	ExpiresAt   time.Time `json:"expires_at"`
	Interval    int       `json:"interval"`
}

type pollResponse struct {
	Status     string `json:"status"`
	Credential string `json:"credential"`
}

var deviceLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Pair this machine and store an agent credential",
	Long: `Start device pairing for an account. A signed-in session confirms the
printed code, either in the web app or with:

  clawkpit device confirm <code> --session <session-id>

The credential is saved and used by every other command.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		if email == "" {
			return fmt.Errorf("--email is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		resp, err := client.post(ctx, "/api/device/start", map[string]string{"email": email})
		if err != nil {
			return err
		}
		var start startResponse
		if err := decodeJSON(resp, &start); err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "\n  Code: %s\n\n", bold.Sprint(start.DisplayCode))
		printStep("Waiting for confirmation (expires %s)...", start.ExpiresAt.Local().Format("15:04"))

		credential, err := pollForCredential(ctx, client, start.DeviceCode, time.Duration(start.Interval)*time.Second)
		if err != nil {
			return err
		}
		if err := config.SaveToken(credential); err != nil {
			return fmt.Errorf("saving credential: %w", err)
		}
		printSuccess("Paired. Credential saved.")
		return nil
	},
}

// pollForCredential polls every interval until the pairing is authorized.
// A rate-limited poll waits out the server's Retry-After.
func pollForCredential(ctx context.Context, c *apiClient, deviceCode string, interval time.Duration) (string, error) {
	wait := interval
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
		wait = interval

		resp, err := c.post(ctx, "/api/device/poll", map[string]string{"device_code": deviceCode})
		if err != nil {
			return "", err
		}
		var res pollResponse
		err = decodeJSON(resp, &res)

		var apiErr *apiError
		switch {
		case errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests:
			if apiErr.RetryAfter > wait {
				wait = apiErr.RetryAfter
			}
		case err != nil:
			switch errorCode(err) {
			case "EXPIRED":
				return "", fmt.Errorf("the code expired before it was confirmed; run login again")
			case "ALREADY_CONSUMED":
				return "", fmt.Errorf("the credential was already collected by another poll")
			}
			return "", err
		case res.Status == "authorized" && res.Credential != "":
			return res.Credential, nil
		}
	}
}

var deviceConfirmCmd = &cobra.Command{
	Use:   "confirm <code>",
	Short: "Confirm a pairing code with a signed-in session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, _ := cmd.Flags().GetString("session")
		if session == "" {
			return fmt.Errorf("--session is required")
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		client.session = session

		resp, err := client.post(cmd.Context(), "/api/device/confirm", map[string]string{"display_code": args[0]})
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Code %s confirmed", args[0])
		return nil
	},
}

func init() {
	deviceLoginCmd.Flags().String("email", "", "account email")
	deviceConfirmCmd.Flags().String("session", "", "session id (see `clawkpit session new`)")
	deviceCmd.AddCommand(deviceLoginCmd, deviceConfirmCmd)
}
