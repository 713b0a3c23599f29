package sandbox

// projectScaffold is the minimal Next.js/TypeScript template copied into
// every fresh workspace, grounded on the system prompt's description of the
// sandbox environment in original_source/backend/app/agent.py
// (SYSTEM_PROMPT_APPEND: "Next.js 14 with TypeScript, Tailwind CSS, and
// shadcn/ui pre-configured").
var projectScaffold = []templateFile{
	{path: "package.json", content: `{
  "name": "app",
  "version": "0.1.0",
  "private": true,
  "scripts": {
    "dev": "next dev",
    "build": "next build",
    "start": "next start",
    "lint": "next lint",
    "typecheck": "tsc --noEmit"
  }
}
`},
	{path: "tsconfig.json", content: `{
  "compilerOptions": {
    "target": "es2017",
    "strict": true,
    "jsx": "preserve",
    "module": "esnext",
    "moduleResolution": "bundler"
  }
}
`},
	{path: "app/page.tsx", content: `export default function Page() {
  return <main></main>
}
`},
	{path: "app/layout.tsx", content: `export default function RootLayout({ children }: { children: React.ReactNode }) {
  return (
    <html lang="en">
      <body>{children}</body>
    </html>
  )
}
`},
}

// curatedComponents is the curated component catalogue injected before the
// first user turn (SPEC_FULL §3 supplement): a JSON registry plus a couple
// of illustrative shared primitives.
var curatedComponents = []templateFile{
	{path: "curated/components.json", content: `[
  {
    "name": "DataTable",
    "path": "curated/components/DataTable.tsx",
    "description": "Sortable, paginated table for tabular data",
    "useWhen": ["displaying rows of records", "comparing many fields at once"],
    "features": ["sorting", "pagination", "column filters"]
  },
  {
    "name": "MetricCard",
    "path": "curated/components/MetricCard.tsx",
    "description": "Single KPI display with trend indicator",
    "useWhen": ["summarizing a single number", "dashboards"],
    "features": ["trend arrow", "sparkline"]
  }
]
`},
	{path: "curated/components/DataTable.tsx", content: `export function DataTable() {
  return <table></table>
}
`},
	{path: "curated/components/MetricCard.tsx", content: `export function MetricCard() {
  return <div></div>
}
`},
}
