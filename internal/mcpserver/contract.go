package mcpserver

// ImportFormatContract describes the Markdown format accepted by the import
// inbox. LLM consumers should follow it when preparing files for import.
const ImportFormatContract = `# refdraft Import Format Contract

Every file dropped into the import inbox becomes one saved item.

## Structure

` + "```" + `markdown
---
kind: reference                    # OPTIONAL – reference (default) or authored
topic: hooks                       # OPTIONAL – free-form topic label
reference_type: structure          # OPTIONAL – structure, idea or unspecified (references only)
platforms:                         # OPTIONAL – YAML list or comma-separated string
  - threads
  - linkedin
links:                             # OPTIONAL – ids of cited references (drafts only)
  - 0b6f4c1e-8d0a-4f7e-9c55-1f1b7f3f0a42
---

The body is the item content, stored as written.
` + "```" + `

## Rules

1. **The body is required.** Files with an empty body are moved to ` + "`" + `failed/` + "`" + `.
2. **Frontmatter is optional**, but when present it must be valid YAML between
   ` + "`" + `---` + "`" + ` fences at the very top of the file.
3. **Only top-level ` + "`" + `.md` + "`" + ` files are imported.** Names starting with a dot are ignored,
   so write to a hidden temp name and rename when done.
4. **Duplicates.** A reference whose content matches a stored reference after
   whitespace normalization is moved to ` + "`" + `skipped/` + "`" + ` unless the server runs with
   ` + "`" + `on_duplicate: save` + "`" + `.
5. **Links.** Drafts may also cite references inline with ` + "`" + `[[reference-id]]` + "`" + `.
   Ids that do not resolve to a live reference are dropped on import.
6. **Topic fallback.** Without a ` + "`" + `topic` + "`" + ` field the first ` + "`" + `#hashtag` + "`" + ` in the body is used.
7. **Platforms** are lowercased; tags outside the configured platform list are dropped.
8. **Encoding** is UTF-8.

## Outcome

Processed files move to ` + "`" + `imported/` + "`" + `, ` + "`" + `skipped/` + "`" + ` or ` + "`" + `failed/` + "`" + `. A failed file gets a
sibling ` + "`" + `<name>.md.error.txt` + "`" + ` with the reason.

## Example

` + "```" + `markdown
---
kind: authored
topic: launch
platforms: threads, x
---

Three lessons from shipping in public, built on [[0b6f4c1e-8d0a-4f7e-9c55-1f1b7f3f0a42]].
` + "```" + `
`
