package runner

// harnessSource is the Python driver executed inside the sandbox. It reads
// the cell manifest, executes code cells in order in one shared namespace,
// and rewrites the result document after every cell so partial outcomes
// survive a forced kill. input() is replaced with a harmless stub so a
// submission that prompts cannot block the run.
const harnessSource = `import ast
import base64
import io
import json
import os
import signal
import sys
import time
import traceback
from contextlib import redirect_stderr, redirect_stdout

MANIFEST_FILE = "cells.json"
RESULT_DIR = ".instantgrade"
RESULT_FILE = os.path.join(RESULT_DIR, "result.json")


class CellTimeout(Exception):
    pass


def _on_alarm(signum, frame):
    raise CellTimeout()


def classify(value):
    if value is None or isinstance(value, (bool, int, float, str)):
        return {"kind": "scalar", "scalar": value}
    if isinstance(value, (bytes, bytearray)):
        return {"kind": "blob", "blob": base64.b64encode(bytes(value)).decode("ascii")}
    cols = getattr(value, "columns", None)
    vals = getattr(value, "values", None)
    if cols is not None and vals is not None:
        try:
            return {"kind": "table", "table": {
                "columns": [str(c) for c in list(cols)],
                "rows": [list(r) for r in vals.tolist()],
            }}
        except Exception:
            pass
    if isinstance(value, (list, tuple)) and value and all(
            isinstance(r, (list, tuple)) for r in value):
        return {"kind": "table", "table": {
            "columns": [],
            "rows": [list(r) for r in value],
        }}
    return {"kind": "scalar", "scalar": repr(value)}


def run_cell(source, namespace):
    """Execute a cell; if its last statement is an expression, return its
    value the way a notebook would display it."""
    tree = ast.parse(source)
    if tree.body and isinstance(tree.body[-1], ast.Expr):
        last = ast.Expression(tree.body[-1].value)
        rest = ast.Module(body=tree.body[:-1], type_ignores=[])
        exec(compile(rest, "<cell>", "exec"), namespace)
        return eval(compile(last, "<cell>", "eval"), namespace)
    exec(compile(tree, "<cell>", "exec"), namespace)
    return None


def write_result(doc):
    os.makedirs(RESULT_DIR, exist_ok=True)
    tmp = RESULT_FILE + ".tmp"
    with open(tmp, "w") as f:
        json.dump(doc, f)
    os.replace(tmp, RESULT_FILE)


def snapshot_symbols(symbols, namespace):
    out = {}
    for name in symbols:
        if name in namespace:
            out[name] = classify(namespace[name])
        else:
            out[name] = {"kind": "missing"}
    return out


def main():
    with open(MANIFEST_FILE) as f:
        manifest = json.load(f)

    opts = manifest.get("options", {})
    stop_on_error = opts.get("stop_on_error", True)
    cell_timeout = opts.get("cell_timeout_ms", 0) / 1000.0
    symbols = manifest.get("symbols", [])

    namespace = {"__name__": "__main__"}
    namespace["input"] = lambda prompt=None: ""

    doc = {"protocol": manifest.get("protocol", 0), "cells": [], "symbols": {}}
    halted = False

    for cell in manifest.get("cells", []):
        record = {
            "index": cell["index"],
            "status": "skipped",
            "stdout": "",
            "stderr": "",
            "duration_ms": 0,
            "value": {"kind": "missing"},
        }
        if halted:
            doc["cells"].append(record)
            continue

        stdout_buf = io.StringIO()
        stderr_buf = io.StringIO()
        if cell_timeout > 0:
            signal.signal(signal.SIGALRM, _on_alarm)
            signal.setitimer(signal.ITIMER_REAL, cell_timeout)
        started = time.monotonic()
        try:
            with redirect_stdout(stdout_buf), redirect_stderr(stderr_buf):
                value = run_cell(cell["source"], namespace)
            record["status"] = "ok"
            record["value"] = classify(value) if value is not None else {"kind": "missing"}
        except CellTimeout:
            record["status"] = "timeout"
        except BaseException:
            record["status"] = "error"
            record["stderr"] = traceback.format_exc()
            if stop_on_error:
                halted = True
        finally:
            if cell_timeout > 0:
                signal.setitimer(signal.ITIMER_REAL, 0)

        record["duration_ms"] = int((time.monotonic() - started) * 1000)
        record["stdout"] = stdout_buf.getvalue()
        record["stderr"] = record["stderr"] or stderr_buf.getvalue()
        doc["cells"].append(record)

        doc["symbols"] = snapshot_symbols(symbols, namespace)
        write_result(doc)

    doc["symbols"] = snapshot_symbols(symbols, namespace)
    write_result(doc)


if __name__ == "__main__":
    main()
`
