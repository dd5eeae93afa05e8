package dashboard

import "net/http"

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(dashboardHTML))
}

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Deskwork Dashboard</title>
<style>
  :root {
    --bg: #0d1117;
    --surface: #161b22;
    --border: #30363d;
    --text: #e6edf3;
    --text-dim: #8b949e;
    --accent: #58a6ff;
    --green: #3fb950;
    --yellow: #d29922;
    --red: #f85149;
  }
  * { box-sizing: border-box; margin: 0; padding: 0; }
  body {
    font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Helvetica, Arial, sans-serif;
    background: var(--bg);
    color: var(--text);
    font-size: 14px;
    line-height: 1.5;
    padding: 16px;
  }
  header {
    display: flex;
    align-items: center;
    justify-content: space-between;
    margin-bottom: 16px;
    padding-bottom: 12px;
    border-bottom: 1px solid var(--border);
  }
  header h1 { font-size: 20px; font-weight: 600; }
  header h1 span { color: var(--accent); }
  .meta { font-size: 12px; color: var(--text-dim); }
  .grid { display: grid; grid-template-columns: 1fr 1fr; gap: 16px; }
  @media (max-width: 900px) { .grid { grid-template-columns: 1fr; } }
  section {
    background: var(--surface);
    border: 1px solid var(--border);
    border-radius: 8px;
    padding: 12px;
  }
  section h2 {
    font-size: 14px;
    font-weight: 600;
    margin-bottom: 8px;
    color: var(--text-dim);
    text-transform: uppercase;
    letter-spacing: 0.04em;
  }
  table { width: 100%; border-collapse: collapse; }
  td, th {
    text-align: left;
    padding: 4px 8px;
    border-bottom: 1px solid var(--border);
    font-size: 13px;
  }
  th { color: var(--text-dim); font-weight: 500; }
  .dim { color: var(--text-dim); }
  .status-running, .level-info { color: var(--green); }
  .status-busy, .status-exploring, .status-routing, .level-warning { color: var(--yellow); }
  .status-stopped, .level-critical { color: var(--red); }
  .empty { color: var(--text-dim); font-style: italic; padding: 8px; }
</style>
</head>
<body>
<header>
  <h1><span>desk</span>work</h1>
  <div class="meta">workspace: <span id="workspace">-</span> &middot; updated <span id="updated">-</span></div>
</header>
<div class="grid">
  <section>
    <h2>Agents</h2>
    <div id="agents" class="empty">loading…</div>
  </section>
  <section>
    <h2>Alerts</h2>
    <div id="alerts" class="empty">loading…</div>
  </section>
  <section style="grid-column: 1 / -1">
    <h2>Tasks</h2>
    <div id="tasks" class="empty">loading…</div>
  </section>
</div>
<script>
function esc(s) {
  return String(s == null ? '' : s).replace(/[&<>"]/g, c => ({'&':'&amp;','<':'&lt;','>':'&gt;','"':'&quot;'}[c]));
}
function table(headers, rows) {
  if (!rows.length) return '<div class="empty">none</div>';
  let html = '<table><tr>' + headers.map(h => '<th>' + h + '</th>').join('') + '</tr>';
  for (const r of rows) html += '<tr>' + r.map(c => '<td>' + c + '</td>').join('') + '</tr>';
  return html + '</table>';
}
async function refresh() {
  try {
    const [status, tasks, alerts] = await Promise.all([
      fetch('/api/status').then(r => r.json()),
      fetch('/api/tasks').then(r => r.json()),
      fetch('/api/alerts').then(r => r.json()),
    ]);
    document.getElementById('workspace').textContent = status.workspace || '-';
    document.getElementById('updated').textContent = new Date().toLocaleTimeString();
    document.getElementById('agents').innerHTML = table(
      ['Agent', 'Status', 'Task', 'Heartbeat', 'Pending'],
      (status.agents || []).map(a => [
        esc(a.name),
        '<span class="status-' + esc(a.status) + '">' + esc(a.status) + '</span>',
        esc(a.current_task),
        '<span class="dim">' + esc(a.last_heartbeat) + '</span>',
        esc(status.pending_messages[a.name] || 0),
      ]));
    document.getElementById('tasks').innerHTML = table(
      ['Title', 'Status', 'Owner', 'Priority', 'Age'],
      (tasks.tasks || []).map(t => [
        esc(t.title), esc(t.status), esc(t.owner), esc(t.priority),
        '<span class="dim">' + esc(t.age) + '</span>',
      ]));
    document.getElementById('alerts').innerHTML = table(
      ['Level', 'Message', 'Source', 'Age'],
      (alerts.alerts || []).map(a => [
        '<span class="level-' + esc(a.level) + '">' + esc(a.level) + '</span>',
        esc(a.message), esc(a.source),
        '<span class="dim">' + esc(a.age) + '</span>',
      ]));
  } catch (err) {
    console.error('refresh failed', err);
  }
}
refresh();
setInterval(refresh, 3000);
</script>
</body>
</html>
`
