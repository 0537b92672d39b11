package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// itemView is the subset of an item the CLI prints.
type itemView struct {
	ID           string     `json:"id"`
	HumanID      int64      `json:"humanId"`
	Title        string     `json:"title"`
	Tag          string     `json:"tag"`
	Urgency      string     `json:"urgency"`
	Importance   string     `json:"importance"`
	Status       string     `json:"status"`
	Deadline     *time.Time `json:"deadline"`
	HasAIChanges bool       `json:"hasAIChanges"`
}

type itemPage struct {
	Items []itemView `json:"items"`
	Total int        `json:"total"`
}

type itemQuery struct {
	Status   string
	Tag      string
	Page     int
	PageSize int
}

func (q itemQuery) encode() string {
	v := url.Values{}
	if q.Status != "" {
		v.Set("status", q.Status)
	}
	if q.Tag != "" {
		v.Set("tag", q.Tag)
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		v.Set("pageSize", strconv.Itoa(q.PageSize))
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

type meResponse struct {
	User struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"user"`
	Auth string `json:"auth"`
}

func fetchMe(ctx context.Context, c *apiClient) (meResponse, error) {
	var me meResponse
	resp, err := c.get(ctx, "/api/me")
	if err != nil {
		return me, err
	}
	return me, decodeJSON(resp, &me)
}

func fetchItems(ctx context.Context, c *apiClient, q itemQuery) (itemPage, error) {
	var page itemPage
	resp, err := c.get(ctx, "/api/v1/items"+q.encode())
	if err != nil {
		return page, err
	}
	return page, decodeJSON(resp, &page)
}

// resolveItemID accepts either an item id or a "#12"/"12" display number.
// Display numbers are looked up across every status.
func resolveItemID(ctx context.Context, c *apiClient, ref string) (string, error) {
	n, err := strconv.ParseInt(strings.TrimPrefix(ref, "#"), 10, 64)
	if err != nil {
		return ref, nil
	}
	for page := 1; ; page++ {
		res, err := fetchItems(ctx, c, itemQuery{Status: "All", Page: page, PageSize: 500})
		if err != nil {
			return "", err
		}
		for _, it := range res.Items {
			if it.HumanID == n {
				return it.ID, nil
			}
		}
		if page*500 >= res.Total {
			return "", fmt.Errorf("no item #%d", n)
		}
	}
}

var itemsCmd = &cobra.Command{
	Use:     "items",
	Aliases: []string{"item"},
	Short:   "List and update board items",
	RunE:    runList,
}

var itemsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List items, most pressing first",
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	status, _ := cmd.Flags().GetString("status")
	tag, _ := cmd.Flags().GetString("tag")
	all, _ := cmd.Flags().GetBool("all")
	if all {
		status = "All"
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}
	page, err := fetchItems(cmd.Context(), client, itemQuery{Status: status, Tag: tag})
	if err != nil {
		return err
	}
	printItems(os.Stdout, page.Items)
	if page.Total > len(page.Items) {
		fmt.Fprintf(os.Stdout, "... %d more\n", page.Total-len(page.Items))
	}
	return nil
}

var itemsAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create an item",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]any{"title": strings.Join(args, " ")}
		for _, f := range []string{"description", "tag", "urgency", "importance"} {
			if v, _ := cmd.Flags().GetString(f); v != "" {
				req[f] = v
			}
		}
		if d, _ := cmd.Flags().GetString("deadline"); d != "" {
			t, err := parseDeadline(d)
			if err != nil {
				return err
			}
			req["deadline"] = t
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/api/v1/items", req)
		if err != nil {
			return err
		}
		var item itemView
		if err := decodeJSON(resp, &item); err != nil {
			return err
		}
		printSuccess("Created #%d %s", item.HumanID, item.Title)
		return nil
	},
}

// parseDeadline accepts RFC 3339 or a bare date, read as end of day UTC.
func parseDeadline(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("deadline must be YYYY-MM-DD or RFC 3339: %q", s)
	}
	return t.Add(24*time.Hour - time.Second), nil
}

var itemsDoneCmd = &cobra.Command{
	Use:   "done <id|#n>",
	Short: "Mark an item done",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return transition(cmd.Context(), args[0], "done", nil)
	},
}

var itemsDropCmd = &cobra.Command{
	Use:   "drop <id|#n>",
	Short: "Drop an item; a note saying why is required",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		note, _ := cmd.Flags().GetString("note")
		var body any
		if note != "" {
			body = map[string]string{"note": note}
		}
		return transition(cmd.Context(), args[0], "drop", body)
	},
}

func transition(ctx context.Context, ref, action string, body any) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	id, err := resolveItemID(ctx, client, ref)
	if err != nil {
		return err
	}
	resp, err := client.post(ctx, "/api/v1/items/"+url.PathEscape(id)+"/"+action, body)
	if err != nil {
		return err
	}
	var item itemView
	if err := decodeJSON(resp, &item); err != nil {
		switch errorCode(err) {
		case "DONE_NOTE_REQUIRED":
			return fmt.Errorf("add a note first: clawkpit items note %s \"...\"", ref)
		case "DROP_NOTE_REQUIRED":
			return fmt.Errorf("say why with --note")
		}
		return err
	}
	printSuccess("#%d %s is now %s", item.HumanID, item.Title, item.Status)
	return nil
}

var itemsNoteCmd = &cobra.Command{
	Use:   "note <id|#n> <text>",
	Short: "Append a note to an item",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		id, err := resolveItemID(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/api/v1/items/"+url.PathEscape(id)+"/notes",
			map[string]string{"content": strings.Join(args[1:], " ")})
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Note added")
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{itemsCmd, itemsListCmd} {
		c.Flags().String("status", "", "Active (default), Done, Dropped or All")
		c.Flags().String("tag", "", "ToRead, ToThinkAbout, ToUse or ToDo")
		c.Flags().Bool("all", false, "include done and dropped items")
	}

	itemsAddCmd.Flags().String("description", "", "longer description")
	itemsAddCmd.Flags().String("tag", "", "ToRead, ToThinkAbout, ToUse or ToDo")
	itemsAddCmd.Flags().String("urgency", "", "DoNow, DoToday, DoThisWeek, DoLater or Unclear")
	itemsAddCmd.Flags().String("importance", "", "High, Medium or Low")
	itemsAddCmd.Flags().String("deadline", "", "YYYY-MM-DD or RFC 3339")

	itemsDropCmd.Flags().String("note", "", "why the item is dropped")

	itemsCmd.AddCommand(itemsListCmd, itemsAddCmd, itemsDoneCmd, itemsDropCmd, itemsNoteCmd)
}
