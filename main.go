package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"practice-records-client/internal/api"
	"practice-records-client/internal/config"
	"practice-records-client/internal/models"
	"practice-records-client/internal/records"
	"practice-records-client/internal/session"
	"practice-records-client/internal/stub"
)

func main() {
	// Load environment variables; a missing .env just means defaults.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	if cmd == "stub" {
		runStub(cfg)
		return
	}

	client := api.NewClient(cfg.APIBaseURL, time.Duration(cfg.HTTPTimeoutSeconds)*time.Second)
	sessions := session.NewStore(client, cfg.SessionFile)
	cache := records.NewCache(client, sessions, cfg.PatientPageSize, cfg.VisitPageSize)
	practice := records.NewPractice(client, sessions)
	ctx := context.Background()

	app := &cli{sessions: sessions, cache: cache, practice: practice}

	var runErr error
	switch cmd {
	case "login":
		runErr = app.login(ctx, args)
	case "register":
		runErr = app.register(ctx, args)
	case "logout":
		sessions.Logout(ctx)
		fmt.Println("logged out")
	case "whoami":
		runErr = app.whoami()
	case "change-password":
		runErr = app.changePassword(ctx, args)
	case "patients":
		runErr = app.patients(ctx, args)
	case "visits":
		runErr = app.visits(ctx, args)
	case "pdf":
		runErr = app.pdf(ctx, args)
	case "account":
		runErr = app.account(ctx, args)
	case "profile":
		runErr = app.profile(ctx, args)
	case "backup":
		runErr = app.backup(ctx, args)
	case "upload":
		runErr = app.upload(ctx, args)
	case "health":
		runErr = practice.Health(ctx)
		if runErr == nil {
			fmt.Println("ok")
		}
	default:
		usage()
		os.Exit(2)
	}
	if runErr != nil {
		log.Fatalf("%s: %v", cmd, runErr)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: practice-records-client <command> [flags]

commands:
  login             -user <email|username> -pass <password>
  register          -email -username -first -last -pass
  logout
  whoami
  change-password   -current -new
  patients          list [-query] | create | update -uuid | delete -uuid
  visits            list -patient [-page -size -query] | add -patient -note | delete -patient -uuid
  pdf               -patient -visit [-select uuid,uuid] [-only-current] [-o file]
  account           get | set -email -username -first -last
  profile           get | set -name -address -phone [...]
  backup            download -o file | restore -f file
  upload            -f file
  health
  stub              run the local stand-in API server`)
}

func runStub(cfg *config.Config) {
	var store stub.Store
	if cfg.Stub.DatabaseDSN != "" {
		var err error
		store, err = stub.NewGormStore(cfg.Stub.DatabaseDSN)
		if err != nil {
			log.Fatalf("Error connecting to stub database: %v", err)
		}
	} else {
		store = stub.NewMemStore()
	}

	server := stub.NewServer(cfg.Stub, store)
	fmt.Printf("Stub API server running on port %s\n", cfg.Stub.Port)
	if err := server.Run(); err != nil {
		log.Fatalf("Failed to start stub server: %v", err)
	}
}

type cli struct {
	sessions *session.Store
	cache    *records.Cache
	practice *records.Practice
}

func (a *cli) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	user := fs.String("user", "", "email or username")
	pass := fs.String("pass", "", "password")
	fs.Parse(args)
	if err := a.sessions.Login(ctx, *user, *pass); err != nil {
		return err
	}
	fmt.Printf("logged in as %s\n", *user)
	return nil
}

func (a *cli) register(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	email := fs.String("email", "", "email address")
	username := fs.String("username", "", "username")
	first := fs.String("first", "", "first name")
	last := fs.String("last", "", "last name")
	pass := fs.String("pass", "", "password")
	fs.Parse(args)
	req := models.RegisterRequest{
		Email:     *email,
		Username:  *username,
		FirstName: *first,
		LastName:  *last,
		Password:  *pass,
	}
	if err := a.sessions.Register(ctx, req); err != nil {
		return err
	}
	fmt.Printf("registered and logged in as %s\n", *email)
	return nil
}

func (a *cli) whoami() error {
	sess := a.sessions.Current()
	if sess == nil {
		fmt.Println("not logged in")
		return nil
	}
	status := "valid"
	if sess.Expired(time.Now()) {
		status = "expired"
	}
	fmt.Printf("%s (doctor %s, token %s until %s)\n", sess.Email, sess.DoctorUUID, status, sess.ExpiresAt.Format(time.RFC3339))
	return nil
}

func (a *cli) changePassword(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("change-password", flag.ExitOnError)
	current := fs.String("current", "", "current password")
	next := fs.String("new", "", "new password")
	fs.Parse(args)
	if err := a.sessions.ChangePassword(ctx, *current, *next); err != nil {
		return err
	}
	fmt.Println("password changed")
	return nil
}

func (a *cli) patients(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("patients: expected list, create, update, or delete")
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "list":
		fs := flag.NewFlagSet("patients list", flag.ExitOnError)
		query := fs.String("query", "", "filter by name or phone")
		fs.Parse(rest)
		if err := a.cache.SetSearchTerm(ctx, *query); err != nil {
			return err
		}
		return printJSON(a.cache.Patients())
	case "create", "update":
		fs := flag.NewFlagSet("patients "+sub, flag.ExitOnError)
		uuid := fs.String("uuid", "", "patient uuid (update only)")
		input := patientFlags(fs)
		fs.Parse(rest)
		if sub == "create" {
			patient, err := a.cache.CreatePatient(ctx, *input)
			if err != nil {
				return err
			}
			return printJSON(patient)
		}
		patient, err := a.cache.UpdatePatient(ctx, *uuid, *input)
		if err != nil {
			return err
		}
		return printJSON(patient)
	case "delete":
		fs := flag.NewFlagSet("patients delete", flag.ExitOnError)
		uuid := fs.String("uuid", "", "patient uuid")
		fs.Parse(rest)
		if err := a.cache.DeletePatient(ctx, *uuid); err != nil {
			return err
		}
		fmt.Println("deleted")
		return nil
	default:
		return fmt.Errorf("patients: unknown subcommand %q", sub)
	}
}

func patientFlags(fs *flag.FlagSet) *models.PatientInput {
	input := &models.PatientInput{}
	fs.StringVar(&input.FirstName, "first", "", "first name")
	fs.StringVar(&input.LastName, "last", "", "last name")
	fs.StringVar(&input.Phone, "phone", "", "phone number")
	fs.StringVar(&input.Address, "address", "", "address")
	fs.StringVar(&input.DateOfBirth, "dob", "", "date of birth")
	fs.StringVar(&input.Sex, "sex", "", "sex")
	return input
}

func (a *cli) visits(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("visits: expected list, add, or delete")
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "list":
		fs := flag.NewFlagSet("visits list", flag.ExitOnError)
		patient := fs.String("patient", "", "patient uuid")
		page := fs.Int("page", 1, "page number")
		size := fs.Int("size", 0, "page size")
		query := fs.String("query", "", "filter text")
		fs.Parse(rest)
		result, err := a.cache.FetchVisits(ctx, *patient, records.FetchOptions{
			Query:    *query,
			Page:     *page,
			PageSize: *size,
		})
		if err != nil {
			return err
		}
		if err := printJSON(result.Items); err != nil {
			return err
		}
		if result.HasNext {
			fmt.Fprintln(os.Stderr, "(more pages may exist)")
		}
		return nil
	case "add":
		fs := flag.NewFlagSet("visits add", flag.ExitOnError)
		patient := fs.String("patient", "", "patient uuid")
		input := &models.AnamnesisInput{}
		fs.StringVar(&input.Note, "note", "", "clinical note")
		fs.StringVar(&input.Diagnosis, "diagnosis", "", "diagnosis")
		fs.StringVar(&input.Therapy, "therapy", "", "therapy")
		fs.StringVar(&input.OtherInfo, "other", "", "other info")
		fs.Parse(rest)
		visit, err := a.cache.CreateVisit(ctx, *patient, *input)
		if err != nil {
			return err
		}
		return printJSON(visit)
	case "delete":
		fs := flag.NewFlagSet("visits delete", flag.ExitOnError)
		patient := fs.String("patient", "", "patient uuid")
		uuid := fs.String("uuid", "", "visit uuid")
		fs.Parse(rest)
		if err := a.cache.DeleteVisit(ctx, *patient, *uuid); err != nil {
			return err
		}
		fmt.Println("deleted")
		return nil
	default:
		return fmt.Errorf("visits: unknown subcommand %q", sub)
	}
}

func (a *cli) pdf(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("pdf", flag.ExitOnError)
	patient := fs.String("patient", "", "patient uuid")
	visit := fs.String("visit", "", "target visit uuid")
	selectList := fs.String("select", "", "comma-separated visit uuids to include")
	onlyCurrent := fs.Bool("only-current", false, "include only the target visit")
	out := fs.String("o", "visit.pdf", "output file")
	fs.Parse(args)

	sel := records.NewSelection(a.cache)
	if err := sel.Open(ctx, *patient, *visit); err != nil {
		return err
	}
	if *onlyCurrent {
		if err := sel.SetOnlyCurrent(true); err != nil {
			return err
		}
	}
	if *selectList != "" {
		for _, id := range strings.Split(*selectList, ",") {
			if err := sel.Toggle(strings.TrimSpace(id)); err != nil {
				return err
			}
		}
	}
	data, err := sel.Confirm(ctx)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d bytes)\n", *out, len(data))
	return nil
}

func (a *cli) account(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("account: expected get or set")
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "get":
		account, err := a.practice.Account(ctx)
		if err != nil {
			return err
		}
		return printJSON(account)
	case "set":
		fs := flag.NewFlagSet("account set", flag.ExitOnError)
		account := models.DoctorAccount{}
		fs.StringVar(&account.Email, "email", "", "email address")
		fs.StringVar(&account.Username, "username", "", "username")
		fs.StringVar(&account.FirstName, "first", "", "first name")
		fs.StringVar(&account.LastName, "last", "", "last name")
		fs.Parse(rest)
		updated, err := a.practice.UpdateAccount(ctx, account)
		if err != nil {
			return err
		}
		return printJSON(updated)
	default:
		return fmt.Errorf("account: unknown subcommand %q", sub)
	}
}

func (a *cli) profile(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("profile: expected get or set")
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "get":
		profile, err := a.practice.Profile(ctx)
		if err != nil {
			return err
		}
		return printJSON(profile)
	case "set":
		fs := flag.NewFlagSet("profile set", flag.ExitOnError)
		profile := models.PracticeProfile{}
		fs.StringVar(&profile.PracticeName, "name", "", "practice name")
		fs.StringVar(&profile.Department, "department", "", "department")
		fs.StringVar(&profile.RoleTitle, "title", "", "role title")
		fs.StringVar(&profile.Address, "address", "", "address")
		fs.StringVar(&profile.Phone, "phone", "", "phone")
		fs.StringVar(&profile.Email, "email", "", "email")
		fs.StringVar(&profile.Website, "website", "", "website")
		fs.StringVar(&profile.LogoPath, "logo", "", "logo path")
		fs.StringVar(&profile.ProtocolPrefix, "protocol", "", "protocol prefix")
		fs.StringVar(&profile.HeaderNote, "header", "", "header note")
		fs.StringVar(&profile.FooterNote, "footer", "", "footer note")
		fs.Parse(rest)
		updated, err := a.practice.SaveProfile(ctx, profile)
		if err != nil {
			return err
		}
		return printJSON(updated)
	default:
		return fmt.Errorf("profile: unknown subcommand %q", sub)
	}
}

func (a *cli) backup(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("backup: expected download or restore")
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "download":
		fs := flag.NewFlagSet("backup download", flag.ExitOnError)
		out := fs.String("o", "practice-backup.json", "output file")
		fs.Parse(rest)
		data, err := a.practice.DownloadBackup(ctx)
		if err != nil {
			return err
		}
		if err := os.WriteFile(*out, data, 0o600); err != nil {
			return err
		}
		fmt.Printf("wrote %s (%d bytes)\n", *out, len(data))
		return nil
	case "restore":
		fs := flag.NewFlagSet("backup restore", flag.ExitOnError)
		in := fs.String("f", "", "backup file")
		fs.Parse(rest)
		file, err := os.Open(*in)
		if err != nil {
			return err
		}
		defer file.Close()
		if err := a.practice.RestoreBackup(ctx, *in, file); err != nil {
			return err
		}
		fmt.Println("restored")
		return nil
	default:
		return fmt.Errorf("backup: unknown subcommand %q", sub)
	}
}

func (a *cli) upload(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	path := fs.String("f", "", "file to upload")
	fs.Parse(args)
	file, err := os.Open(*path)
	if err != nil {
		return err
	}
	defer file.Close()
	url, err := a.practice.UploadFile(ctx, *path, file)
	if err != nil {
		return err
	}
	fmt.Println(url)
	return nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
