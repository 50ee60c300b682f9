package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taxline/internal/app"
	"taxline/internal/config"
	"taxline/internal/db"
	"taxline/internal/engine"
	"taxline/internal/migrate"
	"taxline/internal/providers"
	"taxline/internal/reconcile"
	"taxline/internal/server"
	"taxline/internal/session"
)

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "Taxline CLI",
	Long: `Taxline tracks tax-strategy engagements from agreement to delivered plan.
Core concepts:
- Workspace: your .taxline directory holding only the database; config lives in taxline.yml next to it.
- Client: the taxpayer the engagement is for; each client owns its agreements.
- Agreement: the engagement contract; statuses run DRAFT -> PENDING_SIGNATURE -> PENDING_PAYMENT -> PENDING_TODOS_COMPLETION -> PENDING_STRATEGY -> PENDING_STRATEGY_REVIEW -> COMPLETED, with CANCELLED as the exit.
- Todos: the client's checklist (sign, pay, upload documents); document todos carry the document they ask for.
- Documents: requested uploads reviewed by the strategist; the strategy document itself goes through compliance and client approval.
- Charges: invoices raised once the agreement is signed; payment advances the pipeline.
- Event log: diary of changes, view with 'tl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TAXLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("client", "", "client id (overrides single-client default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("client", rootCmd.PersistentFlags().Lookup("client"))
}

func registerCommands() {
	rootCmd.AddCommand(clientCmd())
	rootCmd.AddCommand(agreementCmd())
	rootCmd.AddCommand(todoCmd())
	rootCmd.AddCommand(documentCmd())
	rootCmd.AddCommand(chargeCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func clientCmd() *cobra.Command {
	c := &cobra.Command{Use: "client", Short: "Manage clients"}
	c.AddCommand(clientCreateCmd())
	c.AddCommand(clientListCmd())
	c.AddCommand(clientShowCmd())
	c.AddCommand(clientLinkReviewerCmd())
	c.AddCommand(clientReviewersCmd())
	return c
}

func clientCreateCmd() *cobra.Command {
	var name, email string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateClient(ctx, name, email, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "client name")
	cmd.Flags().StringVar(&email, "email", "", "client email")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func clientListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListClients(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Email", "Created"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Name, c.Email, c.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func clientShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Show a client",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			override := viper.GetString("client")
			if len(args) == 1 {
				override = args[0]
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := app.ResolveClient(ctx, override, "", viper.GetString("actor-id"), e)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func clientLinkReviewerCmd() *cobra.Command {
	var reviewerID, name string
	cmd := &cobra.Command{
		Use:   "link-reviewer",
		Short: "Link a compliance reviewer to the client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := app.ResolveClient(ctx, viper.GetString("client"), "", viper.GetString("actor-id"), e)
				if err != nil {
					return err
				}
				l, err := e.LinkComplianceReviewer(ctx, c.ID, reviewerID, name, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().StringVar(&reviewerID, "reviewer-id", "", "reviewer actor id")
	cmd.Flags().StringVar(&name, "name", "", "reviewer display name")
	_ = cmd.MarkFlagRequired("reviewer-id")
	return cmd
}

func clientReviewersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reviewers",
		Short: "List the client's compliance reviewers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := app.ResolveClient(ctx, viper.GetString("client"), "", viper.GetString("actor-id"), e)
				if err != nil {
					return err
				}
				links, err := e.Repo.ListComplianceLinks(ctx, c.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(links)
			})
		},
	}
	return cmd
}

func agreementCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "agreement",
		Short: "Manage agreements",
		Long:  "Agreements are the engagement contracts. They move through the pipeline one step at a time; 'tl agreement send' opens signing, payment and document review follow, and 'tl agreement finalize' closes a fully-approved engagement.",
	}
	a.AddCommand(agreementCreateCmd())
	a.AddCommand(agreementListCmd())
	a.AddCommand(agreementShowCmd())
	a.AddCommand(agreementSendCmd())
	a.AddCommand(agreementSetStatusCmd())
	a.AddCommand(agreementCancelCmd())
	a.AddCommand(agreementAdvanceCmd())
	a.AddCommand(agreementStrategyCmd())
	a.AddCommand(agreementFinalizeCmd())
	return a
}

func agreementCreateCmd() *cobra.Command {
	var description, clientName string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create agreement",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := app.ResolveClient(ctx, viper.GetString("client"), clientName, viper.GetString("actor-id"), e)
				if err != nil {
					return err
				}
				ag, err := e.CreateAgreement(ctx, c.ID, description, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(ag)
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "agreement description")
	cmd.Flags().StringVar(&clientName, "client-name", "", "create a client with this name when none exists yet")
	return cmd
}

func agreementListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agreements",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := app.ResolveClient(ctx, viper.GetString("client"), "", viper.GetString("actor-id"), e)
				if err != nil {
					return err
				}
				items, err := e.Repo.ListAgreements(ctx, c.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Status", "Description", "Created"})
				for _, ag := range items {
					tw.AppendRow(table.Row{ag.ID, ag.Status, truncate(ag.Description, 48), ag.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func agreementShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show agreement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ag, err := e.Repo.GetAgreement(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(ag)
			})
		},
	}
	return cmd
}

func agreementSendCmd() *cobra.Command {
	var envelopeID string
	var price int64
	cmd := &cobra.Command{
		Use:   "send <id>",
		Short: "Send agreement for signature",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if price == 0 {
					price = e.Config.Billing.DefaultPrice
				}
				ag, err := e.SendAgreement(ctx, args[0], envelopeID, price, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(ag)
			})
		},
		Args: cobra.ExactArgs(1),
	}
	cmd.Flags().StringVar(&envelopeID, "envelope-id", "", "e-signature envelope id")
	cmd.Flags().Int64Var(&price, "price", 0, "engagement price in cents (defaults from config)")
	_ = cmd.MarkFlagRequired("envelope-id")
	return cmd
}

func agreementSetStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "set-status <id>",
		Short: "Update agreement status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ag, err := e.UpdateAgreementStatus(ctx, args[0], status, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(ag)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func agreementCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel agreement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ag, err := e.CancelAgreement(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(ag)
			})
		},
	}
	return cmd
}

func agreementAdvanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "advance <id>",
		Short: "Advance to strategy preparation once documents are accepted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ag, err := e.AdvanceToStrategy(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(ag)
			})
		},
	}
	return cmd
}

func agreementStrategyCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "strategy <id>",
		Short: "Send the strategy document for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				doc, err := e.SendStrategy(ctx, args[0], name, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(doc)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "strategy document name")
	return cmd
}

func agreementFinalizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "finalize <id>",
		Short: "Complete a fully-approved engagement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ag, err := e.FinalizeAgreement(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(ag)
			})
		},
	}
	return cmd
}

func todoCmd() *cobra.Command {
	td := &cobra.Command{
		Use:   "todo",
		Short: "Inspect client todos",
		Long:  "Todos are the client's checklist: sign the agreement, pay the invoice, upload requested documents. They are created by the engine as the pipeline advances.",
	}
	td.AddCommand(todoListCmd())
	return td
}

func todoListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <agreement-id>",
		Short: "List an agreement's todos",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				todos, err := e.Repo.ListTodos(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(todos)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Category", "Status", "Document"})
				for _, t := range todos {
					docID := ""
					if t.DocumentID != nil {
						docID = *t.DocumentID
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Category, t.Status, docID})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func documentCmd() *cobra.Command {
	d := &cobra.Command{
		Use:   "document",
		Short: "Manage requested documents",
		Long:  "Documents are requested from the client as todos, uploaded, then reviewed. Acceptance moves pending -> accepted-by-strategist; the strategy document additionally passes compliance and client approval.",
	}
	d.AddCommand(documentRequestCmd())
	d.AddCommand(documentListCmd())
	d.AddCommand(documentUploadCmd())
	d.AddCommand(documentReviewCmd())
	return d
}

func documentRequestCmd() *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "request <agreement-id>",
		Short: "Request a document from the client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				todo, err := e.RequestDocument(ctx, args[0], title, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(todo)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "what to upload")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func documentListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <agreement-id>",
		Short: "List an agreement's documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				docs, err := e.Repo.ListDocuments(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(docs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Upload", "Acceptance"})
				for _, doc := range docs {
					tw.AppendRow(table.Row{doc.ID, doc.Name, doc.UploadStatus, doc.AcceptanceStatus})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func documentUploadCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "upload <document-id>",
		Short: "Record a document upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				doc, err := e.MarkDocumentUploaded(ctx, args[0], name, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(doc)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "uploaded file name")
	return cmd
}

func documentReviewCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "review <document-id>",
		Short: "Set a document's acceptance status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				doc, err := e.UpdateDocumentAcceptance(ctx, args[0], status, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(doc)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "acceptance status (accepted-by-strategist, rejected-by-strategist, accepted-by-compliance, rejected-by-compliance, accepted-by-client, declined-by-client)")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func chargeCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "charge",
		Short: "Manage charges",
		Long:  "Charges are invoices against a signed agreement. 'tl charge link' produces the hosted checkout link and 'tl charge paid' records the settlement, which advances the pipeline.",
	}
	c.AddCommand(chargeCreateCmd())
	c.AddCommand(chargeListCmd())
	c.AddCommand(chargeLinkCmd())
	c.AddCommand(chargePaidCmd())
	return c
}

func chargeCreateCmd() *cobra.Command {
	var amount int64
	var currency, description string
	cmd := &cobra.Command{
		Use:   "create <agreement-id>",
		Short: "Create charge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if amount == 0 {
					amount = e.Config.Billing.DefaultPrice
				}
				ch, err := e.CreateCharge(ctx, args[0], amount, currency, description, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(ch)
			})
		},
	}
	cmd.Flags().Int64Var(&amount, "amount", 0, "amount in cents (defaults from config)")
	cmd.Flags().StringVar(&currency, "currency", "", "3-letter currency code (defaults from config)")
	cmd.Flags().StringVar(&description, "description", "", "charge description")
	return cmd
}

func chargeListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <agreement-id>",
		Short: "List an agreement's charges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				charges, err := e.Repo.ListCharges(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(charges)
			})
		},
	}
	return cmd
}

func chargeLinkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link <charge-id>",
		Short: "Generate the payment link for a charge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				link, err := e.GeneratePaymentLink(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"payment_link": link})
				}
				fmt.Println(link)
				return nil
			})
		},
	}
	return cmd
}

func chargePaidCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "paid <charge-id>",
		Short: "Mark a charge as paid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ch, err := e.MarkChargePaid(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(ch)
			})
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	var agreementID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show engagement status",
		Long:  "One reconciled view of the selected engagement: pipeline status, whose turn it is, payment state, document progress, and the strategy review sub-phase.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := app.ResolveClient(ctx, viper.GetString("client"), "", viper.GetString("actor-id"), e)
				if err != nil {
					return err
				}
				actorID := viper.GetString("actor-id")
				api := app.EngineAPI{Engine: e, ActorID: actorID}
				signing := reconcile.Signing{Envelopes: providers.NewMemorySignatures(), Status: api}
				payments := reconcile.Payment{Charges: app.EngineCharges{Engine: e, ActorID: actorID}, Status: api}
				ctl := session.NewController(api, signing, payments, log.New(os.Stderr, "", 0))
				if err := ctl.Init(ctx, c.ID); err != nil {
					return err
				}
				if agreementID != "" {
					if err := ctl.SelectAgreement(ctx, agreementID); err != nil {
						return err
					}
				}
				return printSessionState(ctl.Snapshot())
			})
		},
	}
	cmd.Flags().StringVar(&agreementID, "agreement", "", "agreement id (defaults to most recent)")
	return cmd
}

func printSessionState(s session.State) error {
	if viper.GetBool("json") {
		out := map[string]any{
			"client":     s.Client,
			"agreements": s.Agreements,
			"selected":   s.Selected,
			"todos":      s.Todos,
			"charges":    s.Charges,
			"counts":     s.Counts,
			"step5":      s.Step5,
			"status_key": s.StatusKey,
			"group":      s.WorkflowGroup,
			"errors":     s.Errors,
		}
		return printJSON(out)
	}
	fmt.Printf("Client: %s (%s)\n", s.Client.Name, s.Client.ID)
	if s.Selected == nil {
		fmt.Println("No agreements yet; run 'tl agreement create'.")
		return nil
	}
	fmt.Printf("Agreement: %s (%s)\n", s.Selected.ID, s.Selected.Status)
	fmt.Printf("Status: %s / %s\n", s.StatusKey, s.WorkflowGroup)
	fmt.Printf("Payment received: %v\n", s.PaymentReceived)
	if s.ActiveCharge != nil {
		link := ""
		if s.ActiveCharge.PaymentLink != nil {
			link = *s.ActiveCharge.PaymentLink
		}
		fmt.Printf("Active charge: %s %d %s (%s) %s\n", s.ActiveCharge.ID, s.ActiveCharge.Amount, s.ActiveCharge.Currency, s.ActiveCharge.Status, link)
	}
	fmt.Printf("Documents: %d requested, %d uploaded, %d accepted\n", s.Counts.Total, s.Counts.Uploaded, s.Counts.Accepted)
	if s.Step5.StrategySent {
		fmt.Printf("Strategy review: %s\n", s.Step5.Phase)
	}
	if s.SigningInfo != nil {
		fmt.Printf("Signing: strategist=%v client=%v\n", s.SigningInfo.StrategistHasSigned, s.SigningInfo.ClientHasSigned)
	}
	if len(s.Documents) > 0 {
		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"Document", "Name", "Upload", "Acceptance"})
		for _, t := range s.Todos {
			if t.DocumentID == nil {
				continue
			}
			doc, ok := s.Documents[*t.DocumentID]
			if !ok {
				continue
			}
			tw.AppendRow(table.Row{doc.ID, doc.Name, doc.UploadStatus, doc.AcceptanceStatus})
		}
		tw.Render()
	}
	for section, msg := range s.Errors {
		fmt.Printf("warning: %s failed to load: %s\n", section, msg)
	}
	return nil
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: agreement transitions, document reviews, charges, and more.",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var after int64
	var agreementID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if !cmd.Flags().Changed("after") {
					latest, err := e.Repo.LatestEventID(ctx)
					if err != nil {
						return err
					}
					after = latest - int64(n)
					if after < 0 {
						after = 0
					}
				}
				events, err := e.Repo.EventsAfter(ctx, n, after, agreementID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().Int64Var(&after, "after", 0, "only events after this id")
	cmd.Flags().StringVar(&agreementID, "agreement", "", "agreement filter")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config is taxline.yml in the workspace: server listen address, auth, billing defaults, and webhook subscriptions.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default taxline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("TAXLINE_JWT_SECRET"),
				AllowLegacyActorHeader: cfg.Auth.AllowLegacyActorHeader,
			}
			if authCfg.JWTSecret == "" {
				authCfg.JWTSecret = cfg.Auth.JWTSecret
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("TAXLINE_JWT_SECRET is required for bearer auth")
			}
			if addr == "" {
				addr = cfg.Server.Listen
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			handler, err := server.New(server.Config{
				Engine:     e,
				Signatures: providers.NewMemorySignatures(),
				Payments:   providers.NewMemoryPayments(),
				BasePath:   basePath,
				Auth:       authCfg,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Taxline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults from config)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
