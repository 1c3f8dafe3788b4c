// arca-admin is the support-side tool that runs next to the engine on
// the same machine. It derives the same machine-bound keys and works
// directly against the engine's files, so codes and break-glass
// responses can be produced while the engine is offline.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"arcacli/internal/activation"
	"arcacli/internal/admin"
	"arcacli/internal/audit"
	"arcacli/internal/config"
	"arcacli/internal/security"
)

func main() {
	generateBundle := flag.String("generate", "", "generate an activation code for the given bundle (pro, optimizer, milestones, exportpro)")
	bgResponse := flag.String("breakglass-response", "", "compute the break-glass response for the given challenge")
	showFingerprint := flag.Bool("fingerprint", false, "print the machine fingerprint")
	listBundles := flag.Bool("bundles", false, "list the known bundles and their actions")
	flag.Parse()

	if err := run(*generateBundle, *bgResponse, *showFingerprint, *listBundles); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(generateBundle, bgResponse string, showFingerprint, listBundles bool) error {
	if listBundles {
		for _, bundle := range activation.Bundles() {
			actions, err := bundle.Actions()
			if err != nil {
				return err
			}
			fmt.Printf("%-12s %v\n", bundle, actions)
		}
		return nil
	}

	fingerprints := security.NewFingerprintManager()
	if showFingerprint {
		id, err := fingerprints.FingerprintID()
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	}

	keys, err := security.DeriveKeysFromFingerprint(fingerprints)
	if err != nil {
		return fmt.Errorf("deriving machine keys: %w", err)
	}

	if generateBundle != "" {
		bundle := activation.Bundle(generateBundle)
		if !bundle.Valid() {
			return fmt.Errorf("unknown bundle %q", generateBundle)
		}
		codec, err := activation.NewCodec(keys.SigningKey)
		if err != nil {
			return err
		}
		code, err := codec.Generate(bundle)
		if err != nil {
			return err
		}
		if err := auditCodeGeneration(bundle); err != nil {
			return err
		}
		fmt.Println(code)
		return nil
	}

	if bgResponse != "" {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		paths, err := config.ResolvePaths(cfg)
		if err != nil {
			return err
		}
		auditor := audit.NewLogger(paths.AuditLogFile)
		tokens := admin.NewTokenService(paths.AdminTokenFile, keys, fingerprints, auditor)
		fmt.Println(admin.NewBreakGlass(tokens).ResponseFor(bgResponse))
		return nil
	}

	flag.Usage()
	return nil
}

// auditCodeGeneration records the offline generation in the same audit
// trail the engine uses.
func auditCodeGeneration(bundle activation.Bundle) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	paths, err := config.ResolvePaths(cfg)
	if err != nil {
		return err
	}
	if err := paths.EnsureDirectories(); err != nil {
		return err
	}
	auditor := audit.NewLogger(paths.AuditLogFile)
	entry := audit.NewEntry("activation.generate", fmt.Sprintf("bundle=%s via arca-admin", bundle), audit.OutcomeSuccess)
	return auditor.Append(context.Background(), entry)
}
