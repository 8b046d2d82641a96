package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/stacktodo/stacktodo-go/internal/api"
	"github.com/stacktodo/stacktodo-go/internal/cache"
	"github.com/stacktodo/stacktodo-go/internal/core"
	"github.com/stacktodo/stacktodo-go/internal/output"
	"github.com/stacktodo/stacktodo-go/internal/slack"
)

// Subcommand flags
var (
	afterID   string
	pageCount int
	postID    string
	postIndex int
)

// newTransport builds the transport used by every command. Tests replace it.
var newTransport = func(cfg core.Config) api.Transport {
	return api.NewClient(timeout, retries, slog.Default())
}

func init() {
	// Add all subcommands
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(pageCmd)
	rootCmd.AddCommand(postCmd)
	rootCmd.AddCommand(invalidateCmd)
	rootCmd.AddCommand(inviteCmd)
	rootCmd.AddCommand(formCmd)
	rootCmd.AddCommand(mcpCmd)

	// Page command flags
	pageCmd.Flags().StringVar(&afterID, "after", "", "Id of the last post already seen")
	pageCmd.Flags().IntVarP(&pageCount, "count", "n", core.PageSize, "Posts per page")

	// Post command flags
	postCmd.Flags().StringVar(&postID, "id", "", "Post id")
	postCmd.Flags().IntVar(&postIndex, "index", -1, "Post position in the index")

	// Invalidate command flags
	invalidateCmd.Flags().StringVar(&postID, "id", "", "Drop only this post")
}

const sourceUse = "<task-id> | <team> <reference>"

// indexCmd lists the post index
var indexCmd = &cobra.Command{
	Use:   "index " + sourceUse,
	Short: "List the posts published by a blog",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  handleIndex,
}

// pageCmd fetches one page of posts
var pageCmd = &cobra.Command{
	Use:   "page " + sourceUse,
	Short: "Fetch the page of posts following --after",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  handlePage,
}

// postCmd fetches a single post
var postCmd = &cobra.Command{
	Use:   "post " + sourceUse,
	Short: "Fetch one post by --id or --index",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  handlePost,
}

// invalidateCmd drops cached post bodies
var invalidateCmd = &cobra.Command{
	Use:   "invalidate " + sourceUse,
	Short: "Drop cached posts (all, or one with --id)",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  handleInvalidate,
}

// inviteCmd joins a Slack team
var inviteCmd = &cobra.Command{
	Use:   "invite <team> <email> [key=value...]",
	Short: "Ask to join a Slack team",
	Args:  cobra.MinimumNArgs(2),
	RunE:  handleInvite,
}

// formCmd submits a form into Slack
var formCmd = &cobra.Command{
	Use:   "form <form-id> key=value...",
	Short: "Submit a form into a Slack channel",
	Args:  cobra.MinimumNArgs(1),
	RunE:  handleForm,
}

// mcpCmd starts the MCP server
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server for AI integration",
	RunE:  handleMCP,
}

// session holds what a command needs to talk to stacktodo.
type session struct {
	cfg       core.Config
	transport api.Transport
	logger    *slog.Logger
	closers   []func()
}

func newSession() *session {
	cfg := resolveConfig()
	return &session{
		cfg:       cfg,
		transport: newTransport(cfg),
		logger:    slog.Default(),
	}
}

// Close releases backend connections.
func (s *session) Close() {
	for _, closer := range s.closers {
		closer()
	}
}

// backendFor builds the configured body cache backend for source.
func (s *session) backendFor(source cache.Source) (cache.Backend, error) {
	switch s.cfg.CacheBackend {
	case core.CacheMemory:
		return cache.NewMemoryBackend(), nil
	case core.CacheFilesystem:
		return cache.NewSourceFilesystemBackend(s.cfg.CacheDir, source), nil
	case core.CacheValkey:
		client, err := cache.DialValkey(s.cfg.ValkeyAddress, s.cfg.ValkeyTLSEnabled)
		if err != nil {
			return nil, err
		}
		backend := cache.NewValkeyBackend(client, source.Key())
		s.closers = append(s.closers, backend.Close)
		return backend, nil
	default:
		return nil, errors.Errorf("unknown cache backend %q (expected %s, %s or %s)", s.cfg.CacheBackend, core.CacheMemory, core.CacheFilesystem, core.CacheValkey)
	}
}

// openCache creates an unloaded PostIndexCache for source.
func (s *session) openCache(source cache.Source) (*cache.PostIndexCache, error) {
	backend, err := s.backendFor(source)
	if err != nil {
		return nil, err
	}
	return cache.NewPostIndexCache(s.transport, source,
		cache.WithBackend(backend),
		cache.WithLogger(s.logger),
		cache.WithIndexURL(core.JoinURL(s.cfg.APIBaseURL, core.PublishIndexPath)),
	), nil
}

// loadCache opens the cache for the source named by args and loads its index.
func (s *session) loadCache(ctx context.Context, args []string) (*cache.PostIndexCache, error) {
	source, err := cache.NewSource(args...)
	if err != nil {
		return nil, err
	}
	c, err := s.openCache(source)
	if err != nil {
		return nil, err
	}

	core.ProgressPrint(fmt.Sprintf("Loading index for %s…", source.Key()), quiet)
	if err := c.Load(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to load index")
	}
	return c, nil
}

func handleIndex(cmd *cobra.Command, args []string) error {
	s := newSession()
	defer s.Close()

	c, err := s.loadCache(cmd.Context(), args)
	if err != nil {
		return err
	}

	heads := c.Heads()
	if raw {
		return output.PrintJSON(cmd.OutOrStdout(), heads)
	}
	output.PrintHeads(cmd.OutOrStdout(), heads)
	return nil
}

func handlePage(cmd *cobra.Command, args []string) error {
	s := newSession()
	defer s.Close()

	c, err := s.loadCache(cmd.Context(), args)
	if err != nil {
		return err
	}

	posts, err := c.Postset(cmd.Context(), afterID, pageCount)
	if err != nil {
		return err
	}
	sorted := cache.SortedPosts(posts)

	if raw {
		return output.StreamJSON(cmd.OutOrStdout(), sorted)
	}
	output.PrintPosts(cmd.OutOrStdout(), sorted)

	switch {
	case len(sorted) == 0:
		core.ProgressPrint("No more posts.", quiet)
	case c.IsPostIDLast(sorted[len(sorted)-1].ID):
		core.ProgressPrint("End of index.", quiet)
	default:
		core.ProgressPrint(fmt.Sprintf("Next page: --after %s", sorted[len(sorted)-1].ID), quiet)
	}
	return nil
}

func handlePost(cmd *cobra.Command, args []string) error {
	if (postID == "") == (postIndex < 0) {
		return fmt.Errorf("exactly one of --id and --index is required")
	}

	source, err := cache.NewSource(args...)
	if err != nil {
		return err
	}

	s := newSession()
	defer s.Close()

	c, err := s.openCache(source)
	if err != nil {
		return err
	}

	var post *api.Post
	if postID != "" {
		// A persistent backend may already hold the post.
		post, err = c.PostForID(cmd.Context(), postID)
		if errors.Is(err, cache.ErrIndexNotLoaded) {
			core.Eprint("Post not cached; loading index", verbose)
			if err = c.Load(cmd.Context()); err != nil {
				return errors.Wrap(err, "failed to load index")
			}
			post, err = c.PostForID(cmd.Context(), postID)
		}
	} else {
		if err = c.Load(cmd.Context()); err != nil {
			return errors.Wrap(err, "failed to load index")
		}
		post, err = c.PostForIndex(cmd.Context(), postIndex)
	}
	if err != nil {
		return err
	}

	if raw {
		return output.PrintJSON(cmd.OutOrStdout(), post)
	}
	output.PrintPost(cmd.OutOrStdout(), post)
	return nil
}

func handleInvalidate(cmd *cobra.Command, args []string) error {
	source, err := cache.NewSource(args...)
	if err != nil {
		return err
	}

	s := newSession()
	defer s.Close()

	c, err := s.openCache(source)
	if err != nil {
		return err
	}

	if postID != "" {
		if err := c.InvalidatePost(postID); err != nil {
			return err
		}
		core.ProgressPrint(fmt.Sprintf("Dropped cached post %s.", postID), quiet)
		return nil
	}

	if err := c.InvalidatePosts(); err != nil {
		return err
	}
	core.ProgressPrint(fmt.Sprintf("Dropped cached posts for %s.", source.Key()), quiet)
	return nil
}

func handleInvite(cmd *cobra.Command, args []string) error {
	team, email := args[0], args[1]
	extra, err := core.ParseKeyValues(args[2:])
	if err != nil {
		return err
	}

	s := newSession()
	defer s.Close()

	invite := slack.NewInvite(s.transport, s.cfg.APIBaseURL, team)
	state, err := invite.Join(cmd.Context(), email, extra)
	if err != nil {
		code := slack.ErrorCode(err)
		if code == "" {
			return err
		}
		if raw {
			if err := output.PrintJSON(cmd.OutOrStdout(), map[string]string{"error": code}); err != nil {
				return err
			}
		}
		return errors.New(invite.HumanizeError(slack.InviteError(code)))
	}

	if raw {
		return output.PrintJSON(cmd.OutOrStdout(), map[string]string{"state": string(state)})
	}
	fmt.Fprintln(cmd.OutOrStdout(), invite.HumanizeStatus(state))
	return nil
}

func handleForm(cmd *cobra.Command, args []string) error {
	values, err := core.ParseKeyValues(args[1:])
	if err != nil {
		return err
	}

	s := newSession()
	defer s.Close()

	form := slack.NewForm(s.transport, s.cfg.APIBaseURL, args[0])
	if err := form.Submit(cmd.Context(), values); err != nil {
		code := slack.ErrorCode(err)
		if code == "" {
			return err
		}
		return errors.New(form.HumanizeError(slack.FormError(code)))
	}

	core.ProgressPrint(fmt.Sprintf("Submitted %d field(s) to form %s.", len(values), args[0]), quiet)
	return nil
}

func handleMCP(cmd *cobra.Command, args []string) error {
	s := newSession()
	defer s.Close()

	server := newMCPServer(cmd.InOrStdin(), cmd.OutOrStdout(), s.openCache)
	return server.Run(cmd.Context())
}
