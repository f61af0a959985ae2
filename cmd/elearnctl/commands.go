package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/jrsteele09/elearn-session/backend"
	"github.com/jrsteele09/elearn-session/backend/backendfake"
	"github.com/jrsteele09/elearn-session/core"
	"github.com/jrsteele09/elearn-session/internal/config"
	"github.com/jrsteele09/elearn-session/session"
	"github.com/jrsteele09/elearn-session/stores/catalogue"
	"github.com/jrsteele09/elearn-session/stores/notifications"
	"github.com/jrsteele09/elearn-session/users"
)

func printOutcome(cli cliConfig, out session.Outcome) error {
	if cli.jsonOutput {
		return printJSON(out)
	}
	if !out.Success {
		return fmt.Errorf("%s", out.Error)
	}
	fmt.Printf("signed in, continue at %s\n", out.Redirect)
	return nil
}

func runLogin(ctx context.Context, c *core.Core, cli cliConfig, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: elearnctl login <email> <password> [redirect]")
	}
	redirect := ""
	if len(args) > 2 {
		redirect = args[2]
	}
	return printOutcome(cli, c.Session().Login(ctx, args[0], args[1], redirect))
}

func runRegister(ctx context.Context, c *core.Core, cli cliConfig, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: elearnctl register <email> <password> <name> [role]")
	}
	input := backend.RegisterInput{Email: args[0], Password: args[1], DisplayName: args[2]}
	if len(args) > 3 {
		input.Role = users.ParseRole(args[3])
	}
	return printOutcome(cli, c.Session().Register(ctx, input, ""))
}

func runWhoami(c *core.Core, cli cliConfig, _ []string) error {
	state := c.Session().State()
	if cli.jsonOutput {
		return printJSON(map[string]any{"state": state.String(), "identity": state.Identity})
	}
	if !state.IsAuthenticated() {
		fmt.Println(state.String())
		return nil
	}
	id := state.Identity
	renderTable(os.Stdout, []string{"ID", "EMAIL", "NAME", "ROLE", "STORAGE"}, [][]string{{
		id.ID, id.Email, id.DisplayName, string(id.Role), storageLabel(c),
	}})
	return nil
}

func storageLabel(c *core.Core) string {
	if c.Degraded() {
		return "memory only"
	}
	return "persistent"
}

func runLogout(ctx context.Context, c *core.Core, _ []string) error {
	c.Session().Logout(ctx)
	fmt.Println("signed out")
	return nil
}

func runAccess(ctx context.Context, c *core.Core, cli cliConfig, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: elearnctl access <course-id>")
	}
	decision := c.ContentGuard().Evaluate(ctx, c.Session().State(), args[0])
	if cli.jsonOutput {
		return printJSON(map[string]string{"course": args[0], "decision": decision.String()})
	}
	fmt.Printf("%s: %s\n", args[0], colorDecision(decision))
	return nil
}

func runCourses(ctx context.Context, c *core.Core, cli cliConfig, args []string) error {
	if err := c.RefreshCatalogue(ctx); err != nil {
		return err
	}
	filters := c.Catalogue().Filters()
	if len(args) > 0 {
		filters.Search = args[0]
	}
	courses := c.Catalogue().Filtered(filters)
	if cli.jsonOutput {
		return printJSON(courses)
	}
	if len(courses) == 0 {
		fmt.Println("No courses found.")
		return nil
	}
	rows := make([][]string, 0, len(courses))
	for _, course := range courses {
		price := "free"
		if !course.IsFree {
			price = strconv.FormatFloat(course.Price, 'f', 2, 64)
		}
		rows = append(rows, []string{
			course.ID,
			truncate(course.Title, 40),
			course.Category,
			price,
			yesNo(course.Favorite),
			strconv.Itoa(course.Progress) + "%",
		})
	}
	renderTable(os.Stdout, []string{"ID", "TITLE", "CATEGORY", "PRICE", "FAVORITE", "PROGRESS"}, rows)
	return nil
}

func runFavorite(ctx context.Context, c *core.Core, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: elearnctl favorite <course-id>")
	}
	if err := c.RefreshCatalogue(ctx); err != nil {
		return err
	}
	fav, err := c.Catalogue().ToggleFavorite(ctx, args[0])
	if err != nil {
		return err
	}
	if fav {
		fmt.Printf("%s added to favorites\n", args[0])
	} else {
		fmt.Printf("%s removed from favorites\n", args[0])
	}
	return nil
}

func runNotifications(ctx context.Context, c *core.Core, cli cliConfig, args []string) error {
	if err := c.RefreshNotifications(ctx); err != nil {
		return err
	}
	items := c.Notifications().All()
	if len(args) > 0 && args[0] == "--unread" {
		items = c.Notifications().Unread()
	}
	if cli.jsonOutput {
		return printJSON(items)
	}
	if len(items) == 0 {
		fmt.Println("No notifications.")
		return nil
	}
	rows := make([][]string, 0, len(items))
	for _, n := range items {
		rows = append(rows, []string{n.ID, n.Kind, truncate(n.Title, 50), yesNo(n.Read), formatTimeOrDash(n.CreatedAt)})
	}
	renderTable(os.Stdout, []string{"ID", "KIND", "TITLE", "READ", "CREATED"}, rows)
	fmt.Printf("\n%d unread\n", c.Notifications().UnreadCount())
	return nil
}

// runDemo walks a student through sign in, guard checks and an expired
// access token against an in-process backend.
func runDemo(ctx context.Context, logger zerolog.Logger, cli cliConfig) error {
	srv := backendfake.New(backendfake.WithAccessTTL(time.Minute), backendfake.WithLogger(logger))
	defer srv.Close()

	student := srv.AddUser("sam@example.com", "Passw0rd!", "Sam", users.RoleStudent)
	srv.AddCourse(catalogue.Course{ID: "go-101", Title: "Go Basics", IsFree: true, Category: "programming"})
	srv.AddCourse(catalogue.Course{ID: "k8s-201", Title: "Kubernetes in Production", Price: 49, Category: "devops"})
	srv.AddCourse(catalogue.Course{ID: "ml-301", Title: "Machine Learning", Price: 99, Category: "data"})
	srv.Grant(student.ID, "k8s-201")
	srv.AddNotification(student.ID, notifications.Notification{
		ID: "welcome", Title: "Welcome to the platform", Kind: notifications.KindInfo, CreatedAt: time.Now(),
	})

	cfg, err := config.New(
		config.Set("backend.base_url", srv.URL),
		config.Set("storage.driver", config.StorageDriverMemory),
	)
	if err != nil {
		return err
	}
	c, err := core.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = c.Dispose() }()
	c.Init(ctx)

	out := c.Session().Login(ctx, "sam@example.com", "Passw0rd!", "")
	if err := printOutcome(cli, out); err != nil {
		return err
	}

	state := c.Session().State()
	fmt.Printf("admin area:  %s\n", colorDecision(c.RoleGuard().Evaluate(state, users.RoleAdmin)))
	fmt.Printf("any signed-in user: %s\n", colorDecision(c.RoleGuard().Evaluate(state, users.RoleUnspecified)))
	for _, id := range []string{"go-101", "k8s-201", "ml-301"} {
		fmt.Printf("course %-8s %s\n", id, colorDecision(c.ContentGuard().Evaluate(ctx, state, id)))
	}

	srv.ExpireAccessTokens()
	if err := c.RefreshNotifications(ctx); err != nil {
		return err
	}
	fmt.Printf("access token expired, refreshed %d time(s), %d unread notification(s)\n",
		srv.RefreshCalls(), c.Notifications().UnreadCount())

	c.Session().Logout(ctx)
	fmt.Printf("after logout: %s\n", c.Session().State().String())
	return nil
}
